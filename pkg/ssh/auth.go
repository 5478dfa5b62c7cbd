package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// KeyAuth 实现私钥认证
type KeyAuth struct {
	Path       string
	Passphrase string
}

// Signers 在握手前加载私钥，加载或解析失败直接返回错误
func (k *KeyAuth) Signers() (func() ([]ssh.Signer, error), error) {
	signer, err := LoadSigner(k.Path, k.Passphrase)
	if err != nil {
		return nil, err
	}
	return func() ([]ssh.Signer, error) {
		return []ssh.Signer{signer}, nil
	}, nil
}

// AgentAuth 通过 ssh-agent 提供的密钥认证
type AgentAuth struct {
	Socket string
	conn   net.Conn
}

func (a *AgentAuth) Signers() (func() ([]ssh.Signer, error), error) {
	sock := a.Socket
	if sock == "" {
		sock = os.Getenv("SSH_AUTH_SOCK")
	}
	if sock == "" {
		return nil, errors.New("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("connect ssh-agent: %w", err)
	}
	a.conn = conn
	return agent.NewClient(conn).Signers, nil
}

// Close 断开与 ssh-agent 的连接，握手结束后即可调用
func (a *AgentAuth) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// LoadSigner 读取并解析私钥，passphrase 为空时按无密码私钥处理
func LoadSigner(path, passphrase string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(expandHomeDir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errors.New("private key is encrypted; provide a passphrase")
		}
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// trackedAuth 记录握手过程中是否真正尝试过认证
// 握手失败时据此区分 "连接失败" 和 "认证失败"
type trackedAuth struct {
	attempted atomic.Bool
}

func (t *trackedAuth) password(pw string) ssh.AuthMethod {
	return ssh.PasswordCallback(func() (string, error) {
		t.attempted.Store(true)
		return pw, nil
	})
}

func (t *trackedAuth) publicKeys(signers func() ([]ssh.Signer, error)) ssh.AuthMethod {
	return ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
		t.attempted.Store(true)
		return signers()
	})
}
