package redisstore

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealVersion is prepended to every sealed blob and authenticated as AAD.
const sealVersion byte = 0x01

var hkdfInfoCredentials = []byte("railbook.session.credentials.v1")

// Sealer encrypts credential blobs before they are written to redis.
type Sealer struct {
	key []byte
}

// NewSealer derives the sealing key from secret. An empty secret is rejected.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("redisstore: empty sealing secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, hkdfInfoCredentials), key); err != nil {
		return nil, fmt.Errorf("redisstore: derive key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext as version || nonce || ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	out[0] = sealVersion
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, err
	}
	nonce := out[1:]
	return aead.Seal(out, nonce, plaintext, out[:1]), nil
}

// Open reverses Seal.
func (s *Sealer) Open(blob []byte) ([]byte, error) {
	if len(blob) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, errors.New("redisstore: sealed blob too short")
	}
	if blob[0] != sealVersion {
		return nil, fmt.Errorf("redisstore: unknown seal version %d", blob[0])
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	return aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], blob[:1])
}
