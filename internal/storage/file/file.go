// Package file keeps session values in a local JSON file.
//
// The file is rewritten atomically (temp file + rename) and readable by the owner only.
// When a secret key is set every value is encrypted.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nkiryanov/agentmon/internal/apperrors"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

var errSecretNotSet = errors.New("session file is encrypted but secret key is not set")

type document struct {
	// Salt of the key derivation; empty when values are stored in plain text
	Salt   []byte            `json:"salt,omitempty"`
	Values map[string]string `json:"values"`
}

type Config struct {
	// Path to the file. Created on first write
	Path string

	// Hex encoded secret. If not empty values are encrypted
	SecretKey string
}

type Store struct {
	path   string
	secret string

	mu     sync.Mutex
	sealer *sealer
}

func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("file storage path must not be empty")
	}

	return &Store{path: cfg.Path, secret: cfg.SecretKey}, nil
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", err
	}

	value, ok := doc.Values[key]
	if !ok {
		return "", apperrors.ErrKeyNotFound
	}

	if doc.Salt == nil {
		return value, nil
	}
	sl, err := s.sealerFor(doc.Salt)
	if err != nil {
		return "", err
	}
	return sl.open(key, value)
}

func (s *Store) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	switch {
	case s.secret == "" && doc.Salt != nil:
		return errSecretNotSet
	case s.secret != "":
		if doc.Salt == nil {
			if len(doc.Values) > 0 {
				return errors.New("session file holds plain values, remove it to enable encryption")
			}
			if doc.Salt, err = newSalt(); err != nil {
				return err
			}
		}

		sl, err := s.sealerFor(doc.Salt)
		if err != nil {
			return err
		}
		if value, err = sl.seal(key, value); err != nil {
			return err
		}
	}

	doc.Values[key] = value
	return s.save(doc)
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	changed := false
	for _, key := range keys {
		if _, ok := doc.Values[key]; ok {
			delete(doc.Values, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}

	return s.save(doc)
}

func (s *Store) Close() error {
	return nil
}

// sealerFor returns cached sealer, deriving it again when the file salt changes
func (s *Store) sealerFor(salt []byte) (*sealer, error) {
	if s.secret == "" {
		return nil, errSecretNotSet
	}
	if s.sealer == nil || !bytes.Equal(s.sealer.salt, salt) {
		sl, err := newSealer(s.secret, salt)
		if err != nil {
			return nil, err
		}
		s.sealer = sl
	}
	return s.sealer, nil
}

func (s *Store) load() (document, error) {
	doc := document{Values: make(map[string]string)}

	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return doc, nil
	default:
		return doc, fmt.Errorf("error while reading session file. Err: %w", err)
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("session file %s is corrupted. Err: %w", s.path, err)
	}
	if doc.Values == nil {
		doc.Values = make(map[string]string)
	}
	return doc, nil
}

func (s *Store) save(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("error while encoding session file. Err: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("error while creating session dir. Err: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("error while creating temp file. Err: %w", err)
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("error while writing session file. Err: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("error while setting session file mode. Err: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error while closing session file. Err: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("error while replacing session file. Err: %w", err)
	}
	return nil
}
