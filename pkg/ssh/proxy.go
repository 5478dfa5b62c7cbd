package ssh

import (
	"context"
	"net"

	"golang.org/x/crypto/ssh"
)

// SSHProxyDialer 实现了 Dialer 接口，通过跳板机的 direct-tcpip 通道转发流量
type SSHProxyDialer struct {
	Client *ssh.Client
}

func (s *SSHProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return s.Client.DialContext(ctx, network, addr)
}
