package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in   string
		user string
		host string
		port int
	}{
		{"example.com", "", "example.com", 0},
		{"root@example.com", "root", "example.com", 0},
		{"root@example.com:2222", "root", "example.com", 2222},
		{"10.0.0.1:22", "", "10.0.0.1", 22},
		{"::1", "", "::1", 0},
		{"admin@[::1]:2200", "admin", "::1", 2200},
		{"[fe80::1]", "", "fe80::1", 0},
		{"a@b@host", "a@b", "host", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			user, host, port, err := ParseAddr(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.user, user)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestParseAddrBadPort(t *testing.T) {
	for _, in := range []string{"host:abc", "host:0", "host:70000", "[::1]:x"} {
		_, _, _, err := ParseAddr(in)
		assert.Error(t, err, in)
	}
}
