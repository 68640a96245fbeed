package file

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const saltLen = 16

// argon2id parameters to derive file key from the secret
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

// sealer encrypts stored values with XChaCha20-Poly1305.
// Value key is used as additional data, so a ciphertext can't be moved to another key
type sealer struct {
	salt []byte
	aead cipher.AEAD
}

// newSealer derives the encryption key from hex encoded secret and salt
func newSealer(secretHex string, salt []byte) (*sealer, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("secret key must be hex encoded: %w", err)
	}
	if len(secret) < 16 {
		return nil, errors.New("secret key is too short, at least 16 bytes expected")
	}

	key := argon2.IDKey(secret, salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("error while creating cipher. Err: %w", err)
	}

	return &sealer{salt: salt, aead: aead}, nil
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("error while generating salt. Err: %w", err)
	}
	return salt, nil
}

func (s *sealer) seal(key string, value string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("error while generating nonce. Err: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *sealer) open(key string, encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("stored value is not base64: %w", err)
	}
	if len(sealed) < s.aead.NonceSize() {
		return "", errors.New("stored value is too short")
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", fmt.Errorf("can't decrypt stored value, wrong secret key? Err: %w", err)
	}
	return string(plain), nil
}
