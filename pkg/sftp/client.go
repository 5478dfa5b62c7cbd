package sftp

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	gossh "golang.org/x/crypto/ssh"

	"github.com/wentf9/raft/pkg/logger"
	"github.com/wentf9/raft/pkg/ssh"
)

// Option 定义配置函数的类型
type Option func(*Client)

// WithBlockSize 设置传输块大小，非正数时保持默认值
func WithBlockSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.config.BlockSize = size
		}
	}
}

// WithRemoveOnFailure 控制数据写入失败后是否删除残留的远程文件
func WithRemoveOnFailure(remove bool) Option {
	return func(c *Client) {
		c.config.RemoveOnFailure = remove
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithProgress 设置进度回调，每写完一个块调用一次
func WithProgress(progress ProgressCallback) Option {
	return func(c *Client) {
		c.progress = progress
	}
}

// WithProgressBar 在 w 上显示字节进度条，进度条总量在读取本地文件信息后确定
func WithProgressBar(w io.Writer) Option {
	return func(c *Client) {
		c.progressOut = w
	}
}

// WithLocalFs 替换读取本地源文件使用的文件系统
func WithLocalFs(fs afero.Fs) Option {
	return func(c *Client) {
		if fs != nil {
			c.localFs = fs
		}
	}
}

// Client 负责单个文件的上传
// 每次 Upload 都会在 SSH 连接上新开一个 SFTP 子通道，并在返回前释放
type Client struct {
	open        Opener
	localFs     afero.Fs
	config      TransferConfig
	logger      *slog.Logger
	progress    ProgressCallback
	progressOut io.Writer
}

// NewClient 基于现有的 SSH 连接创建传输客户端
// 这里复用了 pkg/ssh 中已经建立好的连接 (包括跳板机隧道)
func NewClient(sshCli *ssh.Client, opts ...Option) *Client {
	raw := sshCli.SSHClient()
	return newClient(func() (Subsystem, error) {
		return OpenSubsystem(raw)
	}, opts...)
}

func newClient(open Opener, opts ...Option) *Client {
	c := &Client{
		open:    open,
		localFs: afero.NewOsFs(),
		config:  DefaultConfig(),
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config 返回当前生效的传输配置
func (c *Client) Config() TransferConfig {
	return c.config
}

// sftpSubsystem 将 *sftp.Client 适配为 Subsystem
type sftpSubsystem struct {
	*sftp.Client
}

// OpenSubsystem 在 SSH 连接上打开 sftp subsystem 并完成版本协商
func OpenSubsystem(conn *gossh.Client, opts ...sftp.ClientOption) (Subsystem, error) {
	client, err := sftp.NewClient(conn, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sftp subsystem: %w", err)
	}
	return sftpSubsystem{Client: client}, nil
}

func (s sftpSubsystem) OpenFile(path string, flags int) (RemoteFile, error) {
	f, err := s.Client.OpenFile(path, flags)
	if err != nil {
		return nil, err
	}
	return f, nil
}
