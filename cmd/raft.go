package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wentf9/raft/cmd/utils"
	"github.com/wentf9/raft/global"
	"github.com/wentf9/raft/pkg/config"
	"github.com/wentf9/raft/pkg/models"
	"github.com/wentf9/raft/pkg/sftp"
	"github.com/wentf9/raft/pkg/ssh"
)

const (
	maxHostLength = 255
	maxUserLength = 255
)

type RaftOptions struct {
	*rootOptions

	Host       string
	Port       int
	User       string
	Password   string
	KeyFile    string
	KeyPass    string
	UseAgent   bool
	JumpHost   string
	KnownHosts string
	StrictHost bool
	Timeout    time.Duration
	KeepAlive  time.Duration
	Compress   bool

	Command    string
	Command64  string
	LocalPath  string
	RemotePath string

	Progress    bool
	KeepPartial bool
	BlockSize   int

	target  ssh.Target
	command string
}

func NewRaftOptions(ro *rootOptions) *RaftOptions {
	return &RaftOptions{
		rootOptions: ro,
		Host:        "127.0.0.1",
		Port:        ssh.DefaultPort,
		User:        utils.GetCurrentUser(),
		KnownHosts:  "~/.ssh/known_hosts",
		Timeout:     ssh.DefaultTimeout,
		BlockSize:   sftp.DefaultBlockSize,
	}
}

func (o *RaftOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Host, "host", "h", o.Host, "目标主机 [user@]host[:port] 或节点名/别名")
	fs.IntVarP(&o.Port, "port", "P", o.Port, "SSH端口")
	fs.StringVarP(&o.User, "user", "u", o.User, "SSH用户名")
	fs.StringVarP(&o.Password, "password", "p", "", "SSH密码，使用私钥时同时作为私钥密码")
	fs.StringVarP(&o.KeyFile, "identity", "i", "", "SSH私钥文件路径")
	fs.StringVarP(&o.KeyPass, "key-pass", "W", "", "SSH私钥密码")
	fs.BoolVar(&o.UseAgent, "agent", false, "使用 ssh-agent 认证")
	fs.StringVarP(&o.JumpHost, "jump", "j", "", "跳板机地址[user@]host[:port]或节点名")
	fs.StringVar(&o.KnownHosts, "known-hosts", o.KnownHosts, "known_hosts 文件路径")
	fs.BoolVar(&o.StrictHost, "strict-host-key", false, "校验主机密钥")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "连接超时时间")
	fs.DurationVar(&o.KeepAlive, "keepalive", 0, "心跳间隔，0 表示不发送心跳")
	fs.BoolVarP(&o.Compress, "compress", "z", false, "请求压缩 (当前传输层不支持，仅做兼容)")

	fs.StringVarP(&o.Command, "cmd", "c", "", "在远程执行的命令")
	fs.StringVar(&o.Command64, "cmd64", "", "base64 编码的远程命令")
	fs.StringVarP(&o.LocalPath, "local", "l", "", "要上传的本地文件")
	fs.StringVarP(&o.RemotePath, "remote", "r", "", "远程目标路径")

	fs.BoolVar(&o.Progress, "progress", false, "在终端上显示传输进度")
	fs.BoolVar(&o.KeepPartial, "keep-partial", false, "传输失败时保留不完整的远程文件")
	fs.IntVar(&o.BlockSize, "block-size", o.BlockSize, "传输块大小 (字节)")
}

// Complete 合并命令行参数和节点配置，得到最终的连接目标
// 优先级: host 中的 user@/:port > 显式参数 > 节点配置 > 默认值
func (o *RaftOptions) Complete(cmd *cobra.Command) error {
	switch {
	case o.Command64 != "" && o.Command != "":
		return usageError(errors.New("--cmd and --cmd64 are mutually exclusive"))
	case o.Command64 != "":
		raw, err := base64.StdEncoding.DecodeString(o.Command64)
		if err != nil {
			return usageError(fmt.Errorf("--cmd64 is not valid base64: %w", err))
		}
		o.command = string(raw)
	default:
		o.command = o.Command
	}

	cfg, err := o.store().Load()
	if err != nil {
		return usageError(fmt.Errorf("load profiles: %w", err))
	}
	provider := config.NewProvider(cfg)

	user, host, port, err := utils.ParseAddr(o.Host)
	if err != nil {
		return usageError(fmt.Errorf("--host: %w", err))
	}
	userSet, portSet := cmd.Flags().Changed("user"), cmd.Flags().Changed("port")

	t := ssh.Target{Host: host}
	profile, err := o.lookupProfile(provider, o.Host, user, host, port)
	if err != nil {
		return usageError(err)
	}
	if profile != nil {
		o.log.Debug("using profile", "name", profile.Name)
		t = o.profileTarget(profile)
	}

	switch {
	case user != "":
		t.User = user
	case userSet || t.User == "":
		t.User = o.User
	}
	switch {
	case port != 0:
		t.Port = port
	case portSet || t.Port == 0:
		t.Port = o.Port
	}
	if o.Password != "" {
		t.Password = o.Password
	}
	if o.KeyFile != "" {
		t.KeyPath = o.KeyFile
	}
	if o.KeyPass != "" {
		t.Passphrase = o.KeyPass
	}
	t.UseAgent = t.UseAgent || o.UseAgent
	o.applyTransport(&t)

	if o.JumpHost != "" {
		jump, err := o.jumpTarget(provider, t)
		if err != nil {
			return usageError(err)
		}
		t.Jump = &jump
	}
	o.target = t
	return nil
}

func (o *RaftOptions) Validate() error {
	t := o.target
	switch {
	case t.Host == "":
		return usageError(errors.New("no host given"))
	case t.Port <= 0 || t.Port > 65535:
		return usageError(fmt.Errorf("invalid port %d", t.Port))
	case len(t.Host) > maxHostLength:
		return usageError(fmt.Errorf("%w: host longer than %d bytes", ssh.ErrInputTooLong, maxHostLength))
	case len(t.User) > maxUserLength:
		return usageError(fmt.Errorf("%w: user longer than %d bytes", ssh.ErrInputTooLong, maxUserLength))
	case len(o.LocalPath) > sftp.MaxPathLength || len(o.RemotePath) > sftp.MaxPathLength:
		return usageError(fmt.Errorf("%w: path longer than %d bytes", sftp.ErrInputTooLong, sftp.MaxPathLength))
	case len(o.command) > ssh.MaxCommandLength:
		return usageError(fmt.Errorf("%w: command longer than %d bytes", ssh.ErrInputTooLong, ssh.MaxCommandLength))
	case o.BlockSize <= 0:
		return usageError(fmt.Errorf("invalid block size %d", o.BlockSize))
	}
	return nil
}

// Run 连接远程主机，依次执行上传和远程命令
// 上传失败时直接返回，不再执行命令；命令失败只记录日志
func (o *RaftOptions) Run(ctx context.Context, stdout, stderr io.Writer) error {
	log := o.log.Logger
	if o.Compress {
		log.Warn("compression is not supported by the ssh transport, continuing without it")
	}
	transfer := o.LocalPath != "" && o.RemotePath != ""
	if !transfer && (o.LocalPath != "" || o.RemotePath != "") {
		log.Warn("both --local and --remote are required for a file transfer, skipping transfer")
	}
	if err := o.promptPassword(stderr); err != nil {
		return usageError(err)
	}

	log.Debug("connecting", "addr", o.target.Addr(), "user", o.target.User)
	client, err := ssh.NewConnector(log).Connect(ctx, o.target)
	if err != nil {
		return err
	}
	defer client.Close()
	kaCtx, stopKeepAlive := context.WithCancel(ctx)
	defer stopKeepAlive()
	client.StartKeepAlive(kaCtx, o.KeepAlive)

	if transfer {
		opts := []sftp.Option{
			sftp.WithLogger(log),
			sftp.WithBlockSize(o.BlockSize),
			sftp.WithRemoveOnFailure(!o.KeepPartial),
		}
		if o.Progress && global.StderrIsTerminal {
			opts = append(opts, sftp.WithProgressBar(stderr))
		}
		if err := sftp.NewClient(client, opts...).Upload(ctx, o.LocalPath, o.RemotePath); err != nil {
			return &ExitError{Code: ExitTransfer, Err: fmt.Errorf("upload %s to %s: %w", o.LocalPath, o.RemotePath, err)}
		}
		log.Debug("upload finished", "local", o.LocalPath, "remote", o.RemotePath)
	}

	if o.command != "" {
		if err := client.RunCommand(ctx, o.command, stdout, stderr); err != nil {
			log.Error("remote command failed", "error", err)
		}
	}
	return nil
}

// promptPassword 没有任何认证信息且处于交互式终端时读取密码
func (o *RaftOptions) promptPassword(w io.Writer) error {
	t := &o.target
	if t.Password != "" || t.KeyPath != "" || t.UseAgent || !global.IsTerminal {
		return nil
	}
	pw, err := utils.ReadPasswordFromTerminal(w, fmt.Sprintf("%s@%s's password: ", t.User, t.Host))
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	t.Password = pw
	if t.Jump != nil && t.Jump.Password == "" && t.Jump.KeyPath == "" && !t.Jump.UseAgent {
		t.Jump.Password = pw
	}
	return nil
}

// lookupProfile 先按原样匹配 (节点名/别名)，再按 user@host:port 匹配
func (o *RaftOptions) lookupProfile(provider *config.Provider, name, user, host string, port int) (*config.Profile, error) {
	keys := []string{name}
	if user == "" {
		user = o.User
	}
	if port == 0 {
		port = o.Port
	}
	keys = append(keys, fmt.Sprintf("%s@%s:%d", user, host, port))

	for _, key := range keys {
		p, err := provider.Resolve(key)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, config.ErrNodeNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (o *RaftOptions) profileTarget(p *config.Profile) ssh.Target {
	t := ssh.Target{
		Host:       p.Host.Address,
		Port:       p.Host.Port,
		User:       p.Identity.User,
		Password:   p.Identity.Password,
		KeyPath:    p.Identity.KeyPath,
		Passphrase: p.Identity.Passphrase,
		UseAgent:   p.Identity.AuthType == models.AuthAgent,
	}
	if t.Port == 0 {
		t.Port = ssh.DefaultPort
	}
	o.applyTransport(&t)
	if p.Jump != nil {
		jump := o.profileTarget(p.Jump)
		t.Jump = &jump
	}
	return t
}

// jumpTarget 跳板机未保存为节点时，沿用目标主机的认证信息
func (o *RaftOptions) jumpTarget(provider *config.Provider, target ssh.Target) (ssh.Target, error) {
	user, host, port, err := utils.ParseAddr(o.JumpHost)
	if err != nil {
		return ssh.Target{}, fmt.Errorf("--jump: %w", err)
	}
	if user == "" {
		user = target.User
	}
	if port == 0 {
		port = ssh.DefaultPort
	}
	profile, err := o.lookupProfile(provider, o.JumpHost, user, host, port)
	if err != nil {
		return ssh.Target{}, err
	}
	if profile != nil {
		return o.profileTarget(profile), nil
	}
	jump := ssh.Target{
		Host:       host,
		Port:       port,
		User:       user,
		Password:   target.Password,
		KeyPath:    target.KeyPath,
		Passphrase: target.Passphrase,
		UseAgent:   target.UseAgent,
	}
	o.applyTransport(&jump)
	return jump, nil
}

func (o *RaftOptions) applyTransport(t *ssh.Target) {
	t.KnownHostsPath = o.KnownHosts
	t.StrictHostKey = o.StrictHost
	t.Timeout = o.Timeout
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}
