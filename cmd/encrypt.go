package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wentf9/raft/cmd/utils"
	"github.com/wentf9/raft/global"
	"github.com/wentf9/raft/pkg/crypto"
)

func NewCmdEncrypt(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt",
		Short: "加密一个密码，用于写入节点配置文件",
		Long: `从终端读取一个密码，输出 ENC: 开头的加密形式，可直接写入配置文件的 password 或 passphrase 字段。
非交互式环境下从标准输入读取第一行。
密钥保存在配置文件所在目录下的 key 文件中，不存在时自动生成。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if global.IsTerminal {
				s, err := utils.ReadPasswordFromTerminal(cmd.ErrOrStderr(), "Secret: ")
				if err != nil {
					return err
				}
				secret = s
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret from stdin: %w", err)
				}
				secret = strings.TrimRight(line, "\r\n")
			}
			if secret == "" {
				return errors.New("empty secret")
			}

			key, err := crypto.LoadOrGenerateKey(ro.keyPath())
			if err != nil {
				return err
			}
			c, err := crypto.NewCrypter(key)
			if err != nil {
				return err
			}
			enc, err := c.Encrypt(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), enc)
			return nil
		},
	}
}
