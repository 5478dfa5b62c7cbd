package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wentf9/raft/cmd/utils"
	"github.com/wentf9/raft/pkg/config"
	"github.com/wentf9/raft/pkg/models"
	"github.com/wentf9/raft/pkg/ssh"
)

func NewCmdProfile(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profile",
		Aliases: []string{"node", "nodes"},
		Short:   "管理保存的节点信息",
		Long:    `管理配置文件中保存的节点。保存后可以通过 -h <节点名或别名> 连接，密码和私钥密码加密保存。`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	cmd.AddCommand(NewCmdProfileList(ro))
	cmd.AddCommand(NewCmdProfileAdd(ro))
	cmd.AddCommand(NewCmdProfileDelete(ro))
	return cmd
}

func NewCmdProfileAdd(ro *rootOptions) *cobra.Command {
	var (
		password string
		keyPath  string
		keyPass  string
		agent    bool
		alias    []string
		jump     string
	)

	cmd := &cobra.Command{
		Use:   "add [name] [user@]host[:port]",
		Short: "保存一个节点",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if strings.ContainsAny(name, "@:") {
				return fmt.Errorf("节点名中不可含有<@>或<:>符号: %s", name)
			}
			user, host, port, err := utils.ParseAddr(args[1])
			if err != nil {
				return err
			}
			if host == "" {
				return fmt.Errorf("无效的主机地址: %s", args[1])
			}
			if user == "" {
				user = utils.GetCurrentUser()
			}
			if port == 0 {
				port = ssh.DefaultPort
			}

			store := ro.store()
			cfg, err := store.Load()
			if err != nil {
				return fmt.Errorf("加载配置文件失败: %w", err)
			}
			provider := config.NewProvider(cfg)
			if _, ok := provider.GetNode(name); ok {
				return fmt.Errorf("节点 %s 已存在", name)
			}
			if jump != "" && provider.Find(jump) == "" {
				return fmt.Errorf("跳板机 %s 信息不存在,请先保存跳板机信息", jump)
			}

			identity := models.Identity{User: user, Password: password, Passphrase: keyPass}
			switch {
			case keyPath != "":
				identity.KeyPath = keyPath
				identity.AuthType = models.AuthKey
			case agent:
				identity.AuthType = models.AuthAgent
			default:
				identity.AuthType = models.AuthPassword
			}

			provider.AddHost(name, models.Host{Address: host, Port: port})
			provider.AddIdentity(name, identity)
			provider.AddNode(name, models.Node{
				Alias:       alias,
				HostRef:     name,
				IdentityRef: name,
				ProxyJump:   jump,
			})

			if err := store.Save(cfg); err != nil {
				return fmt.Errorf("保存配置文件失败: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "成功保存节点: %s (%s@%s:%d)\n", name, user, host, port)
			return nil
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "SSH密码")
	cmd.Flags().StringVarP(&keyPath, "identity", "i", "", "SSH私钥路径")
	cmd.Flags().StringVarP(&keyPass, "key-pass", "W", "", "私钥密码")
	cmd.Flags().BoolVar(&agent, "agent", false, "使用 ssh-agent 认证")
	cmd.Flags().StringSliceVarP(&alias, "alias", "a", nil, "节点别名")
	cmd.Flags().StringVarP(&jump, "jump", "j", "", "跳板机节点名")
	cmd.MarkFlagsMutuallyExclusive("identity", "agent")
	return cmd
}

func NewCmdProfileList(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出所有保存的节点",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ro.store().Load()
			if err != nil {
				return fmt.Errorf("加载配置文件失败: %w", err)
			}
			provider := config.NewProvider(cfg)
			nodes := provider.ListNodes()
			if len(nodes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "没有找到已存储的节点。")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "名称\t别名\t主机地址\t用户\t认证方式\t跳板机")
			// 排序以便稳定显示
			for _, name := range slices.Sorted(maps.Keys(nodes)) {
				node := nodes[name]
				host, _ := provider.GetHost(name)
				identity, _ := provider.GetIdentity(name)
				fmt.Fprintf(w, "%s\t%s\t%s:%d\t%s\t%s\t%s\n",
					name,
					strings.Join(node.Alias, ", "),
					host.Address, host.Port,
					identity.User,
					identity.AuthType,
					node.ProxyJump,
				)
			}
			return w.Flush()
		},
	}
}

func NewCmdProfileDelete(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete [name]",
		Aliases: []string{"rm"},
		Short:   "删除一个保存的节点",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			store := ro.store()
			cfg, err := store.Load()
			if err != nil {
				return fmt.Errorf("加载配置文件失败: %w", err)
			}

			provider := config.NewProvider(cfg)
			if _, ok := provider.GetNode(name); !ok {
				return fmt.Errorf("节点 %s 不存在", name)
			}
			provider.DeleteNode(name)

			if err := store.Save(cfg); err != nil {
				return fmt.Errorf("保存配置文件失败: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "成功删除节点: %s\n", name)
			return nil
		},
	}
}
