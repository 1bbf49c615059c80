// Package crypto implements the message cipher service: AES-256-CBC with
// PKCS#7 padding and a version tag stored alongside every ciphertext, so
// historical messages stay decryptable across key rotations.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the CBC initialization vector length in bytes.
	IVSize = aes.BlockSize

	hkdfInfo = "gugudan-message-cipher-v1"
)

// currentVersion tags ciphertext produced by this key generation.
const currentVersion = 1

// ConfigError represents invalid key material. It is a startup-time failure:
// the process must not serve traffic with a misconfigured cipher.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// CryptoError represents an encryption/decryption failure at request time.
type CryptoError struct {
	Message string
}

func (e *CryptoError) Error() string { return e.Message }

// ErrCrypto reports whether err is a CryptoError.
func ErrCrypto(err error) bool {
	var ce *CryptoError
	return errors.As(err, &ce)
}

// ErrConfig reports whether err is a ConfigError.
func ErrConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Cipher encrypts and decrypts message bodies under a process-wide key.
// Key material is immutable after construction and safe for unsynchronized
// concurrent use.
type Cipher struct {
	key     []byte
	iv      []byte
	version int
}

// New creates a Cipher from raw key material. The key must be exactly 32
// bytes and the IV exactly 16; anything else is a fatal configuration error.
func New(key, iv []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, &ConfigError{Message: fmt.Sprintf("cipher key must be %d bytes for AES-256, got %d", KeySize, len(key))}
	}
	if len(iv) != IVSize {
		return nil, &ConfigError{Message: fmt.Sprintf("cipher IV must be %d bytes, got %d", IVSize, len(iv))}
	}

	c := &Cipher{
		key:     make([]byte, KeySize),
		iv:      make([]byte, IVSize),
		version: currentVersion,
	}
	copy(c.key, key)
	copy(c.iv, iv)
	return c, nil
}

// NewFromSecret derives key material from a passphrase using HKDF-SHA256,
// for deployments that configure a secret instead of raw base64 key/IV.
func NewFromSecret(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, &ConfigError{Message: "cipher secret must not be empty"}
	}

	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	material := make([]byte, KeySize+IVSize)
	if _, err := io.ReadFull(r, material); err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("key derivation failed: %v", err)}
	}
	return New(material[:KeySize], material[KeySize:])
}

// Version returns the cipher version tag stored with new ciphertext.
func (c *Cipher) Version() int { return c.version }

// Encrypt encrypts plaintext and returns the ciphertext together with the IV
// it was encrypted under. Callers persist both plus Version().
func (c *Cipher) Encrypt(plaintext string) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, nil, &CryptoError{Message: fmt.Sprintf("cipher init failed: %v", err)}
	}

	padded := pad([]byte(plaintext))
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(ciphertext, padded)

	iv = make([]byte, IVSize)
	copy(iv, c.iv)
	return ciphertext, iv, nil
}

// Decrypt decrypts ciphertext using the IV and version tag stored with the
// message. Corruption or tampering yields a CryptoError, never partial
// plaintext.
func (c *Cipher) Decrypt(ciphertext, iv []byte, version int) (string, error) {
	if version != c.version {
		return "", &CryptoError{Message: fmt.Sprintf("unsupported cipher version %d", version)}
	}
	if len(iv) != IVSize {
		return "", &CryptoError{Message: fmt.Sprintf("invalid IV length %d", len(iv))}
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", &CryptoError{Message: fmt.Sprintf("invalid ciphertext length %d", len(ciphertext))}
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", &CryptoError{Message: fmt.Sprintf("cipher init failed: %v", err)}
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// pad applies PKCS#7 padding to a full block multiple.
func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

// unpad strictly validates and strips PKCS#7 padding.
func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, &CryptoError{Message: "invalid padded length"}
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, &CryptoError{Message: "invalid padding"}
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, &CryptoError{Message: "invalid padding"}
		}
	}
	return data[:len(data)-n], nil
}
