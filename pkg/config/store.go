package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/wentf9/raft/pkg/crypto"
	"github.com/wentf9/raft/pkg/models"
)

type Store interface {
	Load() (*Configuration, error)
	Save(cfg *Configuration) error
}

// defaultStore 将配置保存为 yaml 文件
// 敏感字段 (password / passphrase) 以 ENC: 形式落盘，密钥保存在 KeyPath
type defaultStore struct {
	Path    string
	KeyPath string
}

func NewDefaultStore(path, keyPath string) Store {
	return &defaultStore{
		Path:    path,
		KeyPath: keyPath,
	}
}

// Load 读取配置文件并解密敏感字段，文件不存在时返回空配置
func (s *defaultStore) Load() (*Configuration, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return NewConfiguration(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", s.Path, err)
	}

	cfg := NewConfiguration()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", s.Path, err)
	}

	var crypter *crypto.Crypter
	for name, id := range cfg.Identities {
		if !crypto.IsEncrypted(id.Password) && !crypto.IsEncrypted(id.Passphrase) {
			continue
		}
		if crypter == nil {
			key, err := crypto.LoadKey(s.KeyPath)
			if err != nil {
				return nil, err
			}
			if crypter, err = crypto.NewCrypter(key); err != nil {
				return nil, err
			}
		}
		if id.Password, err = crypter.Reveal(id.Password); err != nil {
			return nil, fmt.Errorf("identity '%s' password: %w", name, err)
		}
		if id.Passphrase, err = crypter.Reveal(id.Passphrase); err != nil {
			return nil, fmt.Errorf("identity '%s' passphrase: %w", name, err)
		}
		cfg.Identities[name] = id
	}
	return cfg, nil
}

// Save 加密敏感字段后写入配置文件，cfg 本身不被修改
func (s *defaultStore) Save(cfg *Configuration) error {
	out := &Configuration{
		Identities: make(map[string]models.Identity, len(cfg.Identities)),
		Hosts:      cfg.Hosts,
		Nodes:      cfg.Nodes,
	}

	var crypter *crypto.Crypter
	for name, id := range cfg.Identities {
		if (id.Password != "" && !crypto.IsEncrypted(id.Password)) ||
			(id.Passphrase != "" && !crypto.IsEncrypted(id.Passphrase)) {
			if crypter == nil {
				key, err := crypto.LoadOrGenerateKey(s.KeyPath)
				if err != nil {
					return err
				}
				if crypter, err = crypto.NewCrypter(key); err != nil {
					return err
				}
			}
			var err error
			if id.Password, err = seal(crypter, id.Password); err != nil {
				return err
			}
			if id.Passphrase, err = seal(crypter, id.Passphrase); err != nil {
				return err
			}
		}
		out.Identities[name] = id
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(s.Path, data, 0o600)
}

func seal(c *crypto.Crypter, s string) (string, error) {
	if s == "" || crypto.IsEncrypted(s) {
		return s, nil
	}
	return c.Encrypt(s)
}
