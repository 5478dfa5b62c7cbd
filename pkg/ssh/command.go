package ssh

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxCommandLength 远程命令的最大长度
	MaxCommandLength = 128 * 1024

	commandBufferSize = 256
)

var (
	ErrChannelOpen  = errors.New("channel open failed")
	ErrSessionInit  = errors.New("session init failed")
	ErrExecRequest  = errors.New("exec request failed")
	ErrRead         = errors.New("read from remote command failed")
	ErrOutput       = errors.New("write command output failed")
	ErrInputTooLong = errors.New("input too long")
)

// ExecChannel 执行单条远程命令的子通道
//
// 生命周期: OpenSession -> RequestExec -> Read 直到 EOF -> SendEOF -> Close -> Release。
// Release 无论成功与否都必须且只能调用一次。
type ExecChannel interface {
	OpenSession() error
	RequestExec(command string) error
	Read(p []byte) (int, error)
	SendEOF() error
	Close() error
	Release()
}

// RunCommand 在远程执行 command，并将其标准输出按到达顺序写入 stdout
// 远程标准错误写入 stderr，为 nil 时丢弃
func (c *Client) RunCommand(ctx context.Context, command string, stdout, stderr io.Writer) error {
	if len(command) > MaxCommandLength {
		return fmt.Errorf("%w: command longer than %d bytes", ErrInputTooLong, MaxCommandLength)
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return runCommand(ctx, func() (ExecChannel, error) {
		return newSessionChannel(c.sshClient, stderr, c.logger)
	}, command, stdout, c.logger)
}

func runCommand(ctx context.Context, newChannel func() (ExecChannel, error), command string, stdout io.Writer, logger *slog.Logger) error {
	ch, err := newChannel()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChannelOpen, err)
	}
	defer ch.Release()

	if err := ch.OpenSession(); err != nil {
		return fmt.Errorf("%w: %w", ErrSessionInit, err)
	}

	// 取消时关闭通道，阻塞中的 Read 随之返回
	stop := context.AfterFunc(ctx, func() { ch.Close() })
	defer stop()

	if err := ch.RequestExec(command); err != nil {
		closeChannel(ch, logger)
		return fmt.Errorf("%w: %w", ErrExecRequest, err)
	}
	logger.Debug("remote command started", "command", command)

	buf := make([]byte, commandBufferSize)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if _, werr := stdout.Write(buf[:n]); werr != nil {
				closeChannel(ch, logger)
				return fmt.Errorf("%w: %w", ErrOutput, werr)
			}
		}
		if err == io.EOF || (n == 0 && err == nil) {
			break
		}
		if err != nil {
			closeChannel(ch, logger)
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return fmt.Errorf("%w: %w", ErrRead, err)
		}
	}

	if err := ch.SendEOF(); err != nil {
		logger.Debug("send eof failed", "error", err)
	}
	closeChannel(ch, logger)
	return nil
}

func closeChannel(ch ExecChannel, logger *slog.Logger) {
	if err := ch.Close(); err != nil && err != io.EOF {
		logger.Debug("close channel failed", "error", err)
	}
}

// sessionChannel 基于 "session" 通道实现 ExecChannel
type sessionChannel struct {
	client *ssh.Client
	stderr io.Writer
	logger *slog.Logger

	ch        ssh.Channel
	g         errgroup.Group
	closeOnce sync.Once
	closeErr  error

	exitStatus atomic.Int64
}

func newSessionChannel(client *ssh.Client, stderr io.Writer, logger *slog.Logger) (*sessionChannel, error) {
	if client == nil {
		return nil, errors.New("ssh connection is not established")
	}
	s := &sessionChannel{client: client, stderr: stderr, logger: logger}
	s.exitStatus.Store(-1)
	return s, nil
}

func (s *sessionChannel) OpenSession() error {
	ch, reqs, err := s.client.OpenChannel("session", nil)
	if err != nil {
		return err
	}
	s.ch = ch

	s.g.Go(func() error {
		for req := range reqs {
			if req.Type == "exit-status" && len(req.Payload) >= 4 {
				s.exitStatus.Store(int64(binary.BigEndian.Uint32(req.Payload)))
			}
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
		return nil
	})
	s.g.Go(func() error {
		_, err := io.Copy(s.stderr, ch.Stderr())
		return err
	})
	return nil
}

func (s *sessionChannel) RequestExec(command string) error {
	ok, err := s.ch.SendRequest("exec", true, ssh.Marshal(struct{ Command string }{command}))
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("exec request rejected by server")
	}
	return nil
}

func (s *sessionChannel) Read(p []byte) (int, error) {
	return s.ch.Read(p)
}

func (s *sessionChannel) SendEOF() error {
	return s.ch.CloseWrite()
}

func (s *sessionChannel) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.ch.Close()
	})
	return s.closeErr
}

// Release 等待后台协程退出并记录退出码
func (s *sessionChannel) Release() {
	if s.ch == nil {
		return
	}
	s.Close()
	if err := s.g.Wait(); err != nil {
		s.logger.Debug("drain stderr failed", "error", err)
	}
	if status := s.exitStatus.Load(); status >= 0 {
		s.logger.Debug("remote command exited", "status", status)
	}
}
