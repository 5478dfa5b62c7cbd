// Package sshtest 提供测试用的进程内 SSH 服务器，支持 exec 和 sftp 子系统
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// ExecFunc 处理一条 exec 请求，返回远程退出码
type ExecFunc func(command string, stdout, stderr io.Writer) uint32

// Echo 模拟 "echo ..." 命令，其他命令返回 127
func Echo(command string, stdout, stderr io.Writer) uint32 {
	if rest, ok := strings.CutPrefix(command, "echo "); ok {
		io.WriteString(stdout, rest+"\n")
		return 0
	}
	io.WriteString(stderr, command+": command not found\n")
	return 127
}

type Server struct {
	User          string
	Password      string
	AuthorizedKey ssh.PublicKey
	Exec          ExecFunc
	DisableSFTP   bool

	listener net.Listener
	mu       sync.Mutex
	conns    []net.Conn
	wg       sync.WaitGroup
}

type Option func(*Server)

func WithPassword(user, password string) Option {
	return func(s *Server) {
		s.User, s.Password = user, password
	}
}

func WithAuthorizedKey(user string, key ssh.PublicKey) Option {
	return func(s *Server) {
		s.User, s.AuthorizedKey = user, key
	}
}

func WithExec(fn ExecFunc) Option {
	return func(s *Server) { s.Exec = fn }
}

// WithoutSFTP 拒绝 sftp 子系统请求
func WithoutSFTP() Option {
	return func(s *Server) { s.DisableSFTP = true }
}

// Start 在 127.0.0.1 的随机端口上启动服务器，测试结束时自动关闭
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{Exec: Echo}
	for _, opt := range opts {
		opt(s)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{}
	if s.Password != "" {
		cfg.PasswordCallback = func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == s.User && string(pass) == s.Password {
				return nil, nil
			}
			return nil, ssh.ErrNoAuth
		}
	}
	if s.AuthorizedKey != nil {
		want := s.AuthorizedKey.Marshal()
		cfg.PublicKeyCallback = func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == s.User && string(key.Marshal()) == string(want) {
				return nil, nil
			}
			return nil, ssh.ErrNoAuth
		}
	}
	if s.Password == "" && s.AuthorizedKey == nil {
		cfg.NoClientAuth = true
	}
	cfg.AddHostKey(hostKey)

	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s.wg.Add(1)
	go s.serve(cfg)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close 停止监听并断开所有连接
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve(cfg *ssh.ServerConfig) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn, cfg)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn, cfg *ssh.ServerConfig) {
	sc, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "session":
			channel, requests, err := newChannel.Accept()
			if err != nil {
				continue
			}
			go s.handleSession(channel, requests)
		case "direct-tcpip":
			go s.handleForward(newChannel)
		default:
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
}

// handleForward 实现跳板机转发
func (s *Server) handleForward(newChannel ssh.NewChannel) {
	var payload struct {
		Host     string
		Port     uint32
		OrigHost string
		OrigPort uint32
	}
	if err := ssh.Unmarshal(newChannel.ExtraData(), &payload); err != nil {
		newChannel.Reject(ssh.ConnectionFailed, "bad payload")
		return
	}
	target, err := net.Dial("tcp", net.JoinHostPort(payload.Host, strconv.Itoa(int(payload.Port))))
	if err != nil {
		newChannel.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	channel, reqs, err := newChannel.Accept()
	if err != nil {
		target.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	done := make(chan struct{}, 2)
	go func() { io.Copy(channel, target); channel.CloseWrite(); done <- struct{}{} }()
	go func() { io.Copy(target, channel); target.Close(); done <- struct{}{} }()
	<-done
	<-done
	channel.Close()
	target.Close()
}

func (s *Server) handleSession(channel ssh.Channel, reqs <-chan *ssh.Request) {
	defer channel.Close()
	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			status := s.Exec(payload.Command, channel, channel.Stderr())
			channel.SendRequest("exit-status", false, binary.BigEndian.AppendUint32(nil, status))
			return
		case "subsystem":
			if s.DisableSFTP || len(req.Payload) < 4 || string(req.Payload[4:]) != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			server.Serve()
			server.Close()
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// WriteKey 生成一对 ed25519 密钥，私钥以 OpenSSH 格式写入 dir
// passphrase 非空时私钥加密保存
func WriteKey(t testing.TB, dir, passphrase string) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(priv, "")
	}
	require.NoError(t, err)

	path := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return path, sshPub
}
