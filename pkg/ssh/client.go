package ssh

import (
	"log/slog"

	"golang.org/x/crypto/ssh"

	"github.com/wentf9/raft/pkg/logger"
)

// Client 是一条已经认证的 SSH 连接
type Client struct {
	sshClient *ssh.Client
	jump      *Client
	logger    *slog.Logger
}

func NewClient(raw *ssh.Client, l *slog.Logger) *Client {
	if l == nil {
		l = logger.Discard()
	}
	return &Client{
		sshClient: raw,
		logger:    l,
	}
}

// Close 关闭连接，经由跳板机时一并关闭跳板机连接
func (c *Client) Close() error {
	err := c.sshClient.Close()
	if c.jump != nil {
		c.jump.Close()
	}
	return err
}

// SSHClient 暴露底层的 ssh.Client (供 SFTP 子系统使用)
func (c *Client) SSHClient() *ssh.Client {
	return c.sshClient
}
