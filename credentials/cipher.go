package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ErrDecrypt is returned for tampered ciphertext or a wrong key.
var ErrDecrypt = errors.New("credential decryption failed")

// Cipher encrypts credential payloads with AES-256-GCM. The encoded form is
// base64url(nonce || ciphertext).
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a cipher from key material. A base64 string decoding to
// 32 bytes is used as is; any other non-empty string is hashed with SHA-256.
func NewCipher(key string) (*Cipher, error) {
	if key == "" {
		return nil, errors.New("credentials key is empty")
	}
	raw := parseKey(key)
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// GenerateKey returns a random base64url-encoded key.
func GenerateKey() (string, error) {
	b := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func parseKey(key string) []byte {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.StdEncoding, base64.RawURLEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(key); err == nil && len(b) == KeySize {
			return b
		}
	}
	sum := sha256.Sum256([]byte(key))
	return sum[:]
}

// Encrypt seals plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt.
func (c *Cipher) Decrypt(token string) (string, error) {
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrDecrypt
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", ErrDecrypt
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
