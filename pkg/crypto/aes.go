package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Prefix 标识配置文件中的加密字段
const Prefix = "ENC:"

var ErrDecrypt = errors.New("decrypt secret failed")

// Crypter 封装了 AES-GCM 的操作
type Crypter struct {
	gcm cipher.AEAD
}

// NewCrypter 创建一个新的加解密实例，key 必须是 32 字节 (AES-256)
func NewCrypter(key []byte) (*Crypter, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size: expected %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Crypter{gcm: gcm}, nil
}

// Encrypt 加密字符串
// 输出格式: ENC:<Base64(Nonce + Ciphertext)>
func (c *Crypter) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	// nonce 作为密文前缀一并保存
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 ENC: 开头的字符串
func (c *Crypter) Decrypt(encoded string) (string, error) {
	raw, ok := strings.CutPrefix(encoded, Prefix)
	if !ok {
		return "", fmt.Errorf("%w: missing '%s' prefix", ErrDecrypt, Prefix)
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plaintext, err := c.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

// Reveal 解密加密字段，明文原样返回
func (c *Crypter) Reveal(s string) (string, error) {
	if !IsEncrypted(s) {
		return s, nil
	}
	return c.Decrypt(s)
}

// IsEncrypted 判断字符串是否是加密格式
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, Prefix)
}
