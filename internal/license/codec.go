// Package license implements tenant-bound envelope encryption for subscription
// licenses and stored project credentials.
package license

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	dataKeySize = 32
	kekInfo     = "auditgrid/license/kek/v1"
)

var (
	// ErrTenantMismatch means the ciphertext was not sealed under the supplied tenant key
	// (or has been tampered with). Decryption never returns partial plaintext.
	ErrTenantMismatch = errors.New("license: ciphertext does not belong to tenant")
	ErrMalformed      = errors.New("license: malformed ciphertext")
	ErrMissingKey     = errors.New("license: master key is not configured")
	ErrMissingTenant  = errors.New("license: tenant key is required")
)

// Sealed is an envelope: the payload under a fresh data key, and that data key
// wrapped under a key derived from the tenant identifier.
type Sealed struct {
	Payload string
	Key     string
}

// Codec seals and opens envelopes. The master key never leaves the process;
// tenantKey acts as the HKDF salt and as additional authenticated data, so an
// envelope opens only under the exact tenant key it was sealed with. Keys are
// used byte-for-byte: callers pass the stored external id, not user input.
type Codec struct {
	master []byte
	rand   io.Reader
}

// NewCodec constructs a Codec from the configured master key.
func NewCodec(masterKey string) (*Codec, error) {
	masterKey = strings.TrimSpace(masterKey)
	if masterKey == "" {
		return nil, ErrMissingKey
	}
	return &Codec{master: []byte(masterKey), rand: rand.Reader}, nil
}

// Encrypt seals payload for tenantKey.
func (c *Codec) Encrypt(payload []byte, tenantKey string) (Sealed, error) {
	if tenantKey == "" {
		return Sealed{}, ErrMissingTenant
	}

	dataKey := make([]byte, dataKeySize)
	if _, err := io.ReadFull(c.rand, dataKey); err != nil {
		return Sealed{}, fmt.Errorf("license: generate data key: %w", err)
	}
	sealedPayload, err := c.seal(dataKey, payload, []byte(tenantKey))
	if err != nil {
		return Sealed{}, err
	}

	kek, err := c.deriveKEK(tenantKey)
	if err != nil {
		return Sealed{}, err
	}
	wrappedKey, err := c.seal(kek, dataKey, []byte(tenantKey))
	if err != nil {
		return Sealed{}, err
	}

	return Sealed{
		Payload: base64.StdEncoding.EncodeToString(sealedPayload),
		Key:     base64.StdEncoding.EncodeToString(wrappedKey),
	}, nil
}

// Decrypt opens an envelope sealed for tenantKey. Any other tenant key yields ErrTenantMismatch.
func (c *Codec) Decrypt(env Sealed, tenantKey string) ([]byte, error) {
	if tenantKey == "" {
		return nil, ErrMissingTenant
	}
	wrappedKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(env.Key))
	if err != nil {
		return nil, ErrMalformed
	}
	sealedPayload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(env.Payload))
	if err != nil {
		return nil, ErrMalformed
	}

	kek, err := c.deriveKEK(tenantKey)
	if err != nil {
		return nil, err
	}
	dataKey, err := open(kek, wrappedKey, []byte(tenantKey))
	if err != nil {
		return nil, err
	}
	if len(dataKey) != dataKeySize {
		return nil, ErrMalformed
	}
	return open(dataKey, sealedPayload, []byte(tenantKey))
}

// EncryptString is Encrypt for text payloads such as stored passwords.
func (c *Codec) EncryptString(plain, tenantKey string) (Sealed, error) {
	return c.Encrypt([]byte(plain), tenantKey)
}

// DecryptString is Decrypt for text payloads.
func (c *Codec) DecryptString(env Sealed, tenantKey string) (string, error) {
	out, err := c.Decrypt(env, tenantKey)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *Codec) deriveKEK(tenantKey string) ([]byte, error) {
	kek := make([]byte, dataKeySize)
	r := hkdf.New(sha256.New, c.master, []byte(tenantKey), []byte(kekInfo))
	if _, err := io.ReadFull(r, kek); err != nil {
		return nil, fmt.Errorf("license: derive key: %w", err)
	}
	return kek, nil
}

func (c *Codec) seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("license: generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func open(key, sealed, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformed
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	out, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, ErrTenantMismatch
	}
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("license: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
