// Package vault 负责机器认证凭据的静态加密。
// 句柄格式: enc:base64(salt|nonce|ciphertext)，salt/nonce 随密文一起保存，
// 密钥由主口令经 argon2id 按 salt 派生，进程内使用后即丢弃。
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Prefix 标识已加密字段。
const Prefix = "enc:"

const saltLen = 16

// ErrDecryption 口令错误或密文损坏。绝不静默返回可疑明文。
var ErrDecryption = errors.New("vault: decryption failed")

// Vault 持有主口令；加密密钥按 secret 派生，不落盘。
type Vault struct {
	passphrase []byte
}

// New 以操作员提供的主口令创建 Vault。口令为空时 Seal/Open 返回错误。
func New(passphrase string) *Vault {
	return &Vault{passphrase: []byte(passphrase)}
}

// deriveKey argon2id: 时间 1、内存 64MiB、并行 4，输出 32 字节。
func (v *Vault) deriveKey(salt []byte) []byte {
	return argon2.IDKey(v.passphrase, salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

// Seal 加密 secret 并返回不透明句柄。
func (v *Vault) Seal(secret []byte) (string, error) {
	if len(v.passphrase) == 0 {
		return "", errors.New("vault: master passphrase not set")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("vault: salt: %w", err)
	}
	key := v.deriveKey(salt)
	defer wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("vault: cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	blob := make([]byte, 0, saltLen+len(nonce)+len(secret)+aead.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, secret, nil)
	return Prefix + base64.StdEncoding.EncodeToString(blob), nil
}

// Open 解密句柄，返回明文。口令不符或密文损坏返回 ErrDecryption。
// 调用方用毕应调用 Wipe 清零明文。
func (v *Vault) Open(handle string) ([]byte, error) {
	if len(v.passphrase) == 0 {
		return nil, errors.New("vault: master passphrase not set")
	}
	if !strings.HasPrefix(handle, Prefix) {
		return nil, ErrDecryption
	}
	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(handle, Prefix))
	if err != nil {
		return nil, ErrDecryption
	}
	if len(blob) < saltLen+chacha20poly1305.NonceSizeX {
		return nil, ErrDecryption
	}
	salt := blob[:saltLen]
	nonce := blob[saltLen : saltLen+chacha20poly1305.NonceSizeX]
	ct := blob[saltLen+chacha20poly1305.NonceSizeX:]
	key := v.deriveKey(salt)
	defer wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrDecryption
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plain, nil
}

// IsSealed 判断字符串是否为本 vault 的句柄格式。
func IsSealed(s string) bool { return strings.HasPrefix(s, Prefix) }

// Wipe 清零敏感字节切片。
func Wipe(b []byte) { wipe(b) }

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
