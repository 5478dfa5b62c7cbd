package ssh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/wentf9/raft/pkg/logger"
)

// Connector 负责创建 SSH 连接
type Connector struct {
	logger *slog.Logger
	// dial 建立到目标 (或第一跳) 的底层连接，测试时可替换
	dial func(timeout time.Duration) Dialer
}

// NewConnector 创建一个新的 Connector
func NewConnector(l *slog.Logger) *Connector {
	if l == nil {
		l = logger.Discard()
	}
	return &Connector{
		logger: l,
		dial: func(timeout time.Duration) Dialer {
			return &net.Dialer{Timeout: timeout}
		},
	}
}

// Connect 建立到 t 的 SSH 连接并完成认证
// 如果配置了跳板机，会先递归连接跳板机，再通过它的隧道连接目标
//
// 返回的错误总是包装了 ErrConnect、ErrKeyAuth 或 ErrPasswordAuth 之一
func (c *Connector) Connect(ctx context.Context, t Target) (*Client, error) {
	if t.Port == 0 {
		t.Port = DefaultPort
	}
	if t.Timeout <= 0 {
		t.Timeout = DefaultTimeout
	}
	addr := t.Addr()

	// 1. 确定网络拨号器
	dialer := c.dial(t.Timeout)
	var jump *Client
	if t.Jump != nil {
		c.logger.Debug("connecting via jump host", "jump", t.Jump.Addr(), "target", addr)
		jc, err := c.Connect(ctx, *t.Jump)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to jump host '%s': %w", t.Jump.Addr(), err)
		}
		jump = jc
		dialer = &SSHProxyDialer{Client: jc.sshClient}
	}
	fail := func(err error) (*Client, error) {
		if jump != nil {
			jump.Close()
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	// 2. 建立底层连接
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fail(fmt.Errorf("%w: dial %s: %w", ErrConnect, addr, err))
	}
	c.logger.Debug("tcp connection established", "addr", addr)

	// 3. 构建认证信息，私钥加载失败归为私钥认证失败
	tracker := &trackedAuth{}
	sshConfig, cleanup, err := c.buildSSHConfig(t, tracker)
	if err != nil {
		conn.Close()
		return fail(err)
	}
	defer cleanup()

	// 4. 握手和认证，超时同样作用在握手阶段
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return fail(classifyHandshakeError(t, tracker, err))
	}
	_ = conn.SetDeadline(time.Time{})
	c.logger.Debug("ssh session established", "addr", addr, "user", t.User)

	client := NewClient(ssh.NewClient(ncc, chans, reqs), c.logger)
	client.jump = jump
	return client, nil
}

// buildSSHConfig 根据 Target 构建 ssh.ClientConfig
// 返回的 cleanup 在握手结束后调用
func (c *Connector) buildSSHConfig(t Target, tracker *trackedAuth) (*ssh.ClientConfig, func(), error) {
	cleanup := func() {}
	var methods []ssh.AuthMethod

	switch {
	case t.KeyPath != "":
		// 私钥密码未单独提供时沿用登录密码
		passphrase := t.Passphrase
		if passphrase == "" {
			passphrase = t.Password
		}
		key := &KeyAuth{Path: t.KeyPath, Passphrase: passphrase}
		signers, err := key.Signers()
		if err != nil {
			return nil, cleanup, fmt.Errorf("%w: %s: %w", ErrKeyAuth, t.KeyPath, err)
		}
		methods = append(methods, tracker.publicKeys(signers))
		c.logger.Debug("using public key authentication", "key", t.KeyPath)

	case t.UseAgent:
		ag := &AgentAuth{}
		signers, err := ag.Signers()
		if err != nil {
			return nil, cleanup, fmt.Errorf("%w: %w", ErrKeyAuth, err)
		}
		cleanup = func() { ag.Close() }
		methods = append(methods, tracker.publicKeys(signers))
		if t.Password != "" {
			methods = append(methods, tracker.password(t.Password))
		}
		c.logger.Debug("using ssh-agent authentication")

	default:
		methods = append(methods, tracker.password(t.Password))
		c.logger.Debug("using password authentication")
	}

	hostKey, err := hostKeyCallback(t)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         t.Timeout,
	}, cleanup, nil
}

func hostKeyCallback(t Target) (ssh.HostKeyCallback, error) {
	if !t.StrictHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := t.KnownHostsPath
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	cb, err := knownhosts.New(expandHomeDir(path))
	if err != nil {
		return nil, fmt.Errorf("%w: load known_hosts: %w", ErrConnect, err)
	}
	return cb, nil
}

// classifyHandshakeError 区分网络/协议错误和认证被拒绝
func classifyHandshakeError(t Target, tracker *trackedAuth, err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return fmt.Errorf("%w: host key verification failed: %w", ErrConnect, err)
	}
	if !tracker.attempted.Load() && !strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: ssh handshake with %s: %w", ErrConnect, t.Addr(), err)
	}
	if t.keyBased() {
		return fmt.Errorf("%w: %s@%s: %w", ErrKeyAuth, t.User, t.Addr(), err)
	}
	return fmt.Errorf("%w: %s@%s: %w", ErrPasswordAuth, t.User, t.Addr(), err)
}

// expandHomeDir 简单的路径处理辅助函数
func expandHomeDir(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return home + path[1:]
		}
	}
	return path
}
