package ssh

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

const (
	DefaultPort    = 22
	DefaultTimeout = 20 * time.Second
)

// 连接阶段的错误分类，命令行据此决定退出码
var (
	ErrConnect      = errors.New("connect failed")
	ErrKeyAuth      = errors.New("key authentication failed")
	ErrPasswordAuth = errors.New("password authentication failed")
)

// Dialer 定义网络连接行为的接口
// 用于统一 "直连" 和 "通过 SSH 跳板机连接" 的行为
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Target 描述一次连接所需的全部信息
type Target struct {
	Host       string
	Port       int
	User       string
	Password   string
	KeyPath    string // 私钥路径，非空时使用私钥认证
	Passphrase string // 私钥密码
	UseAgent   bool   // 未提供私钥时通过 SSH_AUTH_SOCK 使用 ssh-agent

	KnownHostsPath string
	StrictHostKey  bool // 为 false 时接受任意主机密钥

	Timeout time.Duration // 建立连接和握手的总超时
	Jump    *Target       // 跳板机，可为空
}

func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// keyBased 判断认证失败时应归为私钥认证失败还是密码认证失败
func (t Target) keyBased() bool {
	return t.KeyPath != "" || (t.UseAgent && t.Password == "")
}
