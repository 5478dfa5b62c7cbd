package ssh

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wentf9/raft/pkg/logger"
)

// fakeChannel 按顺序返回预置的读取结果，并记录每个调用
type fakeChannel struct {
	openErr error
	execErr error
	chunks  []string
	readErr error

	calls []string
	exec  string
}

func (f *fakeChannel) OpenSession() error {
	f.calls = append(f.calls, "open")
	return f.openErr
}

func (f *fakeChannel) RequestExec(command string) error {
	f.calls = append(f.calls, "exec")
	f.exec = command
	return f.execErr
}

func (f *fakeChannel) Read(p []byte) (int, error) {
	if len(f.chunks) > 0 {
		n := copy(p, f.chunks[0])
		f.chunks[0] = f.chunks[0][n:]
		if f.chunks[0] == "" {
			f.chunks = f.chunks[1:]
		}
		return n, nil
	}
	if f.readErr != nil {
		return 0, f.readErr
	}
	return 0, io.EOF
}

func (f *fakeChannel) SendEOF() error {
	f.calls = append(f.calls, "eof")
	return nil
}

func (f *fakeChannel) Close() error {
	f.calls = append(f.calls, "close")
	return nil
}

func (f *fakeChannel) Release() {
	f.calls = append(f.calls, "release")
}

func run(t *testing.T, ch *fakeChannel, command string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := runCommand(context.Background(), func() (ExecChannel, error) { return ch, nil },
		command, &out, logger.Discard())
	return out.String(), err
}

func TestRunCommandRelaysOutputInOrder(t *testing.T) {
	long := strings.Repeat("x", 600)
	ch := &fakeChannel{chunks: []string{"first\n", long, "last\n"}}

	out, err := run(t, ch, "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "first\n"+long+"last\n", out)
	assert.Equal(t, "echo hello", ch.exec)
	assert.Equal(t, []string{"open", "exec", "eof", "close", "release"}, ch.calls)
}

func TestRunCommandNoOutput(t *testing.T) {
	ch := &fakeChannel{}

	out, err := run(t, ch, "true")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, []string{"open", "exec", "eof", "close", "release"}, ch.calls)
}

func TestRunCommandChannelOpenFailed(t *testing.T) {
	var out bytes.Buffer
	err := runCommand(context.Background(), func() (ExecChannel, error) {
		return nil, errors.New("no connection")
	}, "ls", &out, logger.Discard())
	assert.ErrorIs(t, err, ErrChannelOpen)
}

func TestRunCommandSessionInitFailed(t *testing.T) {
	ch := &fakeChannel{openErr: errors.New("administratively prohibited")}

	_, err := run(t, ch, "ls")
	assert.ErrorIs(t, err, ErrSessionInit)
	assert.Equal(t, []string{"open", "release"}, ch.calls)
}

func TestRunCommandExecRejected(t *testing.T) {
	ch := &fakeChannel{execErr: errors.New("rejected")}

	_, err := run(t, ch, "ls")
	assert.ErrorIs(t, err, ErrExecRequest)
	assert.Equal(t, []string{"open", "exec", "close", "release"}, ch.calls)
}

func TestRunCommandReadErrorSkipsEOF(t *testing.T) {
	ch := &fakeChannel{chunks: []string{"partial"}, readErr: errors.New("connection reset")}

	out, err := run(t, ch, "cat big")
	assert.ErrorIs(t, err, ErrRead)
	assert.Equal(t, "partial", out)
	assert.NotContains(t, ch.calls, "eof")
	assert.Equal(t, []string{"open", "exec", "close", "release"}, ch.calls)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestRunCommandOutputWriteFailed(t *testing.T) {
	ch := &fakeChannel{chunks: []string{"data"}}
	err := runCommand(context.Background(), func() (ExecChannel, error) { return ch, nil },
		"ls", failingWriter{}, logger.Discard())
	assert.ErrorIs(t, err, ErrOutput)
	assert.Equal(t, []string{"open", "exec", "close", "release"}, ch.calls)
}

func TestRunCommandTooLong(t *testing.T) {
	c := NewClient(nil, nil)
	err := c.RunCommand(context.Background(), strings.Repeat("a", MaxCommandLength+1), io.Discard, nil)
	assert.ErrorIs(t, err, ErrInputTooLong)
}
