// Package storage defines durable key-value storage the session lives in.
//
// Backends: in-memory (tests, one-shot runs), a local file (the default for the CLI),
// redis and postgres (sessions shared between hosts or agents).
package storage

import (
	"context"
	"sync"

	"github.com/nkiryanov/agentmon/internal/apperrors"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Storage is durable key-value storage.
// Implementations must be safe for concurrent use. Writes are last-writer-wins
type Storage interface {
	// Get value by key
	// Has to return apperrors.ErrKeyNotFound if key not exists
	Get(ctx context.Context, key string) (string, error)

	// Set value, overwriting existing one
	Set(ctx context.Context, key string, value string) error

	// Delete keys. Missing keys are not an error
	Delete(ctx context.Context, keys ...string) error

	Close() error
}

// Memory is Storage that lives as long as the process
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	if !ok {
		return "", apperrors.ErrKeyNotFound
	}
	return value, nil
}

func (m *Memory) Set(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
