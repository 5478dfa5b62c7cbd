package config

import (
	"errors"
	"fmt"
	"maps"

	"github.com/wentf9/raft/pkg/models"
)

var ErrNodeNotFound = errors.New("node not found")

type Provider struct {
	cfg         *Configuration
	lookupIndex map[string]string
}

func NewProvider(cfg *Configuration) *Provider {
	if cfg == nil {
		cfg = NewConfiguration()
	}
	if cfg.Nodes == nil {
		cfg.Nodes = map[string]models.Node{}
	}
	if cfg.Hosts == nil {
		cfg.Hosts = map[string]models.Host{}
	}
	if cfg.Identities == nil {
		cfg.Identities = map[string]models.Identity{}
	}
	provider := &Provider{
		cfg:         cfg,
		lookupIndex: map[string]string{},
	}
	for nodeId := range cfg.Nodes {
		provider.add(nodeId)
	}
	return provider
}

// add 将节点及其所有标识符加入索引
func (cp *Provider) add(nodeId string) {
	node, ok := cp.GetNode(nodeId)
	if !ok {
		return
	}
	identity, ok := cp.GetIdentity(nodeId)
	if !ok {
		return
	}
	host, ok := cp.GetHost(nodeId)
	if !ok {
		return
	}
	cp.lookupIndex[nodeId] = nodeId
	if identity.User != "" {
		port := host.Port
		if port == 0 {
			port = 22
		}
		cp.lookupIndex[fmt.Sprintf("%s@%s:%d", identity.User, host.Address, port)] = nodeId
	}
	for _, alias := range node.Alias {
		if alias == "" {
			continue
		}
		cp.lookupIndex[alias] = nodeId
	}
}

// Find 匹配用户输入 (节点名 / 别名 / user@host:port)，未找到时返回空字符串
func (cp *Provider) Find(input string) string {
	return cp.lookupIndex[input]
}

func (cp *Provider) GetNode(nodeId string) (models.Node, bool) {
	n, ok := cp.cfg.Nodes[nodeId]
	return n, ok
}

func (cp *Provider) GetHost(nodeId string) (models.Host, bool) {
	if node, ok := cp.cfg.Nodes[nodeId]; ok {
		h, ok := cp.cfg.Hosts[node.HostRef]
		return h, ok
	}
	return models.Host{}, false
}

func (cp *Provider) GetIdentity(nodeId string) (models.Identity, bool) {
	if node, ok := cp.cfg.Nodes[nodeId]; ok {
		id, ok := cp.cfg.Identities[node.IdentityRef]
		return id, ok
	}
	return models.Identity{}, false
}

func (cp *Provider) AddNode(nodeId string, node models.Node) {
	cp.cfg.Nodes[nodeId] = node
	cp.add(nodeId)
}

func (cp *Provider) AddHost(hostId string, host models.Host) {
	cp.cfg.Hosts[hostId] = host
}

func (cp *Provider) AddIdentity(identityId string, identity models.Identity) {
	cp.cfg.Identities[identityId] = identity
}

// DeleteNode 删除节点及其索引
// 被引用的 Host 和 Identity 没有其他节点使用时一并删除
func (cp *Provider) DeleteNode(nodeId string) {
	node, ok := cp.cfg.Nodes[nodeId]
	if !ok {
		return
	}
	delete(cp.cfg.Nodes, nodeId)
	maps.DeleteFunc(cp.lookupIndex, func(_, v string) bool { return v == nodeId })

	hostUsed, identityUsed := false, false
	for _, n := range cp.cfg.Nodes {
		hostUsed = hostUsed || n.HostRef == node.HostRef
		identityUsed = identityUsed || n.IdentityRef == node.IdentityRef
	}
	if !hostUsed {
		delete(cp.cfg.Hosts, node.HostRef)
	}
	if !identityUsed {
		delete(cp.cfg.Identities, node.IdentityRef)
	}
}

func (cp *Provider) ListNodes() map[string]models.Node {
	return maps.Clone(cp.cfg.Nodes)
}

// Resolve 按用户输入查找节点，并展开跳板机链
func (cp *Provider) Resolve(input string) (*Profile, error) {
	return cp.resolve(input, map[string]bool{})
}

func (cp *Provider) resolve(input string, seen map[string]bool) (*Profile, error) {
	nodeId := cp.Find(input)
	if nodeId == "" {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, input)
	}
	if seen[nodeId] {
		return nil, fmt.Errorf("proxy_jump loop detected at node '%s'", nodeId)
	}
	seen[nodeId] = true

	node, _ := cp.GetNode(nodeId)
	host, ok := cp.GetHost(nodeId)
	if !ok {
		return nil, fmt.Errorf("host ref '%s' not found for node '%s'", node.HostRef, nodeId)
	}
	identity, ok := cp.GetIdentity(nodeId)
	if !ok {
		return nil, fmt.Errorf("identity ref '%s' not found for node '%s'", node.IdentityRef, nodeId)
	}

	p := &Profile{Name: nodeId, Host: host, Identity: identity}
	if node.ProxyJump != "" {
		jump, err := cp.resolve(node.ProxyJump, seen)
		if err != nil {
			return nil, fmt.Errorf("resolve jump host of '%s': %w", nodeId, err)
		}
		p.Jump = jump
	}
	return p, nil
}
