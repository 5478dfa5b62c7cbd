package models

// Identity 定义认证信息
type Identity struct {
	User       string `yaml:"user"`
	KeyPath    string `yaml:"key_path,omitempty"`
	Passphrase string `yaml:"passphrase,omitempty"` // 私钥密码
	Password   string `yaml:"password,omitempty"`   // 登录密码
	AuthType   string `yaml:"auth_type,omitempty"`  // "key", "password", "agent"
}

// Host 定义网络连接信息
type Host struct {
	Address string `yaml:"address"` // IP 或 域名
	Port    int    `yaml:"port,omitempty"`
}

// Node 是一个可连接的目标，聚合了 Host 和 Identity
type Node struct {
	Alias []string `yaml:"alias,omitempty"`

	HostRef     string `yaml:"host_ref"`
	IdentityRef string `yaml:"identity_ref"`

	// 跳板机，指向另一个 Node 的名称或别名
	ProxyJump string `yaml:"proxy_jump,omitempty"`
}

const (
	AuthKey      = "key"
	AuthPassword = "password"
	AuthAgent    = "agent"
)
