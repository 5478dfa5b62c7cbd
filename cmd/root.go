package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wentf9/raft/cmd/utils"
	"github.com/wentf9/raft/pkg/config"
	"github.com/wentf9/raft/pkg/logger"
)

// rootOptions 所有子命令共享的选项
type rootOptions struct {
	Verbose    bool
	ConfigPath string
	EnvFile    string

	log *logger.Log
	// 命令行上显式给出的参数个数，不含环境变量
	explicitFlags int
}

func NewCmdRoot() *cobra.Command {
	ro := &rootOptions{}
	o := NewRaftOptions(ro)

	cmd := &cobra.Command{
		Use:   "raft -h [user@]host[:port] [flags]",
		Short: "raft 通过 SFTP 上传单个文件并可在远程执行命令",
		Long: `raft 通过 SSH 连接到远程主机，将一个本地文件上传到指定路径，
并保留文件的权限、属主和修改时间；也可以在远程执行一条命令并输出结果。
用法示例:
raft -h deploy@10.0.0.5 -i ~/.ssh/id_ed25519 -l ./app.tar.gz -r /opt/app.tar.gz
raft -h web -c "systemctl restart app"
raft -h root@host:2222 -p secret -l ./a.conf -r /etc/a.conf -c "nginx -s reload"
-h 既可以是地址也可以是配置文件中保存的节点名或别名
未提供密码、私钥或 --agent 时将从终端读取密码
所有参数都可以通过 RAFT_<参数名> 环境变量提供，例如 RAFT_PASSWORD`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ro.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if ro.explicitFlags == 0 {
				cmd.Usage()
				return &ExitError{Code: ExitUsage, Err: errUsage}
			}
			if err := o.Complete(cmd); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	defaultConfig, _ := utils.GetConfigFilePath()
	cmd.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "输出调试信息")
	cmd.PersistentFlags().StringVar(&ro.ConfigPath, "config", defaultConfig, "节点配置文件路径")
	cmd.PersistentFlags().StringVar(&ro.EnvFile, "env-file", "", "启动时加载的 .env 文件")

	// -h 用于 --host，help 不设置短参数
	cmd.Flags().Bool("help", false, "帮助信息")
	o.AddFlags(cmd.Flags())

	cmd.AddCommand(NewCmdEncrypt(ro))
	cmd.AddCommand(NewCmdProfile(ro))
	cmd.AddCommand(NewCmdVersion())
	return cmd
}

// setup 加载 .env 文件、应用环境变量并初始化日志
func (ro *rootOptions) setup(cmd *cobra.Command) error {
	ro.explicitFlags = cmd.Flags().NFlag()
	if ro.EnvFile != "" {
		if err := godotenv.Load(ro.EnvFile); err != nil {
			return &ExitError{Code: ExitUsage, Err: fmt.Errorf("load env file: %w", err)}
		}
	}
	if err := applyEnvOverrides(cmd.Flags()); err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	ro.log = logger.New(cmd.ErrOrStderr(), ro.Verbose)
	return nil
}

// keyPath 密钥文件与配置文件放在同一目录
func (ro *rootOptions) keyPath() string {
	return filepath.Join(filepath.Dir(ro.ConfigPath), utils.ConfigKeyName)
}

func (ro *rootOptions) store() config.Store {
	return config.NewDefaultStore(ro.ConfigPath, ro.keyPath())
}

// applyEnvOverrides 对命令行上没有给出的参数，使用 RAFT_<NAME> 环境变量的值
func applyEnvOverrides(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix("RAFT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == "help" || !v.IsSet(f.Name) {
			return
		}
		if err := fs.Set(f.Name, v.GetString(f.Name)); err != nil {
			env := "RAFT_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			errs = append(errs, fmt.Errorf("invalid %s: %w", env, err))
		}
	})
	return errors.Join(errs...)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, NewCmdRoot(), os.Stderr)
	stop()
	if code != ExitOK {
		exitFunc(code)
	}
}

func execute(ctx context.Context, cmd *cobra.Command, errOut io.Writer) int {
	err := cmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errUsage) {
		fmt.Fprintf(errOut, "raft: %v\n", err)
	}
	return exitCode(err)
}
