package ssh

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wentf9/raft/internal/sshtest"
)

func targetFor(srv *sshtest.Server) Target {
	return Target{
		Host:    srv.Host(),
		Port:    srv.Port(),
		User:    "tester",
		Timeout: 5 * time.Second,
	}
}

func TestConnectPasswordAndRunCommand(t *testing.T) {
	srv := sshtest.Start(t, sshtest.WithPassword("tester", "secret"))
	target := targetFor(srv)
	target.Password = "secret"

	client, err := NewConnector(nil).Connect(context.Background(), target)
	require.NoError(t, err)
	defer client.Close()

	var stdout, stderr bytes.Buffer
	require.NoError(t, client.RunCommand(context.Background(), "echo hello", &stdout, &stderr))
	assert.Equal(t, "hello\n", stdout.String())
	assert.Empty(t, stderr.String())
}

func TestRunCommandFailureStillSucceeds(t *testing.T) {
	srv := sshtest.Start(t, sshtest.WithPassword("tester", "secret"))
	target := targetFor(srv)
	target.Password = "secret"

	client, err := NewConnector(nil).Connect(context.Background(), target)
	require.NoError(t, err)
	defer client.Close()

	var stdout, stderr bytes.Buffer
	require.NoError(t, client.RunCommand(context.Background(), "no-such-cmd", &stdout, &stderr))
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "command not found")
}

func TestRunCommandLargeOutput(t *testing.T) {
	// 输出远大于读缓冲区，且 stderr 同时写入，不能阻塞
	out := strings.Repeat("0123456789abcdef", 8*1024)
	srv := sshtest.Start(t,
		sshtest.WithPassword("tester", "secret"),
		sshtest.WithExec(func(command string, stdout, stderr io.Writer) uint32 {
			io.WriteString(stderr, strings.Repeat("e", 64*1024))
			io.WriteString(stdout, out)
			return 3
		}),
	)
	target := targetFor(srv)
	target.Password = "secret"

	client, err := NewConnector(nil).Connect(context.Background(), target)
	require.NoError(t, err)
	defer client.Close()

	var stdout, stderr bytes.Buffer
	require.NoError(t, client.RunCommand(context.Background(), "dump", &stdout, &stderr))
	assert.Equal(t, out, stdout.String())
	assert.Equal(t, 64*1024, stderr.Len())
}

func TestConnectWrongPassword(t *testing.T) {
	srv := sshtest.Start(t, sshtest.WithPassword("tester", "secret"))
	target := targetFor(srv)
	target.Password = "wrong"

	_, err := NewConnector(nil).Connect(context.Background(), target)
	assert.ErrorIs(t, err, ErrPasswordAuth)
}

func TestConnectKey(t *testing.T) {
	keyPath, pub := sshtest.WriteKey(t, t.TempDir(), "")
	srv := sshtest.Start(t, sshtest.WithAuthorizedKey("tester", pub))
	target := targetFor(srv)
	target.KeyPath = keyPath

	client, err := NewConnector(nil).Connect(context.Background(), target)
	require.NoError(t, err)
	client.Close()
}

func TestConnectEncryptedKeyUsesPassword(t *testing.T) {
	keyPath, pub := sshtest.WriteKey(t, t.TempDir(), "phrase")
	srv := sshtest.Start(t, sshtest.WithAuthorizedKey("tester", pub))
	target := targetFor(srv)
	target.KeyPath = keyPath
	target.Password = "phrase"

	client, err := NewConnector(nil).Connect(context.Background(), target)
	require.NoError(t, err)
	client.Close()
}

func TestConnectKeyErrors(t *testing.T) {
	_, authorized := sshtest.WriteKey(t, t.TempDir(), "")
	srv := sshtest.Start(t, sshtest.WithAuthorizedKey("tester", authorized))

	t.Run("unknown key rejected", func(t *testing.T) {
		other, _ := sshtest.WriteKey(t, t.TempDir(), "")
		target := targetFor(srv)
		target.KeyPath = other
		_, err := NewConnector(nil).Connect(context.Background(), target)
		assert.ErrorIs(t, err, ErrKeyAuth)
	})

	t.Run("missing key file", func(t *testing.T) {
		target := targetFor(srv)
		target.KeyPath = filepath.Join(t.TempDir(), "missing")
		_, err := NewConnector(nil).Connect(context.Background(), target)
		assert.ErrorIs(t, err, ErrKeyAuth)
	})

	t.Run("encrypted key without passphrase", func(t *testing.T) {
		encrypted, _ := sshtest.WriteKey(t, t.TempDir(), "phrase")
		target := targetFor(srv)
		target.KeyPath = encrypted
		_, err := NewConnector(nil).Connect(context.Background(), target)
		assert.ErrorIs(t, err, ErrKeyAuth)
	})
}

func TestConnectUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	_, err = NewConnector(nil).Connect(context.Background(), Target{
		Host:     "127.0.0.1",
		Port:     addr.Port,
		User:     "tester",
		Password: "x",
		Timeout:  time.Second,
	})
	assert.ErrorIs(t, err, ErrConnect)
}

func TestConnectNotSSH(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		conn.Close()
	}()

	_, err = NewConnector(nil).Connect(context.Background(), Target{
		Host:     "127.0.0.1",
		Port:     ln.Addr().(*net.TCPAddr).Port,
		User:     "tester",
		Password: "x",
		Timeout:  2 * time.Second,
	})
	assert.ErrorIs(t, err, ErrConnect)
}

func TestConnectStrictHostKeyUnknown(t *testing.T) {
	srv := sshtest.Start(t, sshtest.WithPassword("tester", "secret"))
	target := targetFor(srv)
	target.Password = "secret"
	target.StrictHostKey = true
	target.KnownHostsPath = filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(target.KnownHostsPath, nil, 0o600))

	_, err := NewConnector(nil).Connect(context.Background(), target)
	assert.ErrorIs(t, err, ErrConnect)
}

func TestConnectThroughJumpHost(t *testing.T) {
	jumpSrv := sshtest.Start(t, sshtest.WithPassword("jumper", "j"))
	srv := sshtest.Start(t, sshtest.WithPassword("tester", "secret"))

	target := targetFor(srv)
	target.Password = "secret"
	target.Jump = &Target{Host: jumpSrv.Host(), Port: jumpSrv.Port(), User: "jumper", Password: "j"}

	client, err := NewConnector(nil).Connect(context.Background(), target)
	require.NoError(t, err)
	defer client.Close()

	var out bytes.Buffer
	require.NoError(t, client.RunCommand(context.Background(), "echo via jump", &out, nil))
	assert.Equal(t, "via jump\n", out.String())
}

func TestTargetAddr(t *testing.T) {
	assert.Equal(t, "example.com:22", Target{Host: "example.com"}.Addr())
	assert.Equal(t, "[::1]:2222", Target{Host: "::1", Port: 2222}.Addr())
}

func TestNilLoggerDiscards(t *testing.T) {
	ctx := context.Background()
	assert.False(t, NewConnector(nil).logger.Enabled(ctx, slog.LevelError))
	assert.False(t, NewClient(nil, nil).logger.Enabled(ctx, slog.LevelError))
}
