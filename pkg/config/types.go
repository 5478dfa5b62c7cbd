package config

import (
	"github.com/wentf9/raft/pkg/models"
)

// Configuration 对应 yaml 文件的顶层结构
type Configuration struct {
	Identities map[string]models.Identity `yaml:"identities"`
	Hosts      map[string]models.Host     `yaml:"hosts"`
	Nodes      map[string]models.Node     `yaml:"nodes"`
}

// NewConfiguration 返回一个空配置
func NewConfiguration() *Configuration {
	return &Configuration{
		Identities: map[string]models.Identity{},
		Hosts:      map[string]models.Host{},
		Nodes:      map[string]models.Node{},
	}
}

// ConfigProvider 定义命令行获取连接配置的接口
type ConfigProvider interface {
	GetNode(name string) (models.Node, bool)
	GetHost(name string) (models.Host, bool)
	GetIdentity(name string) (models.Identity, bool)
	AddHost(name string, host models.Host)
	AddIdentity(name string, identity models.Identity)
	AddNode(name string, node models.Node)
	DeleteNode(name string)
	ListNodes() map[string]models.Node
	Find(input string) string
	Resolve(input string) (*Profile, error)
}

// Profile 是一个节点解析后的完整连接信息
type Profile struct {
	Name     string
	Host     models.Host
	Identity models.Identity
	Jump     *Profile
}
