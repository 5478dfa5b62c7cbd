package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true)

	l.Debug("connected", "host", "10.0.0.1")

	assert.Equal(t, slog.LevelDebug, l.Level())
	assert.Contains(t, buf.String(), "connected")
	assert.Contains(t, buf.String(), "timestamp=")
	assert.NotContains(t, buf.String(), "time=")
}

func TestNewQuietDropsDebug(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("remote close failed")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "remote close failed")
}

func TestSetLogLevel(t *testing.T) {
	l := New(&bytes.Buffer{}, false)

	l.SetLogLevel("ERROR")
	assert.Equal(t, slog.LevelError, l.Level())

	l.SetLogLevel("bogus")
	assert.Equal(t, slog.LevelError, l.Level())

	l.SetLogLevel("info")
	assert.Equal(t, slog.LevelInfo, l.Level())
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
}
