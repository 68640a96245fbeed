package fakeapi

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTokenTTL = 30 * time.Minute
	signingMethod         = "HS256"
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims

	// Tokens of older generation are rejected, see ExpireAccessTokens
	Generation int `json:"gen"`
}

// tokenManager issues tokens the way the real API does: JWT access token, opaque refresh token
type tokenManager struct {
	key       []byte
	alg       jwt.SigningMethod
	accessTTL time.Duration

	mu         sync.Mutex
	generation int
	refresh    map[string]string // refresh token -> user id
}

func newTokenManager() *tokenManager {
	return &tokenManager{
		key:       []byte(uuid.NewString()),
		alg:       jwt.GetSigningMethod(signingMethod),
		accessTTL: defaultAccessTokenTTL,
		refresh:   make(map[string]string),
	}
}

func (m *tokenManager) issueAccess(userID string) (string, error) {
	m.mu.Lock()
	generation := m.generation
	m.mu.Unlock()

	now := time.Now().Truncate(time.Second)
	token := jwt.NewWithClaims(m.alg, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		},
		Generation: generation,
	})

	access, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("error while signing access token. Err: %w", err)
	}
	return access, nil
}

func (m *tokenManager) issuePair(userID string) (access string, refresh string, err error) {
	access, err = m.issueAccess(userID)
	if err != nil {
		return "", "", err
	}

	// Random refresh token 16 bytes length
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("error while generate refresh token. Err: %w", err)
	}
	refresh = hex.EncodeToString(b)

	m.mu.Lock()
	m.refresh[refresh] = userID
	m.mu.Unlock()

	return access, refresh, nil
}

// useRefresh returns owner of refresh token. The token stays valid: the API never rotates it
func (m *tokenManager) useRefresh(refresh string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID, ok := m.refresh[refresh]
	if !ok {
		return "", errors.New("refresh token not found")
	}
	return userID, nil
}

func (m *tokenManager) revokeRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refresh = make(map[string]string)
}

// expireAccess makes all issued access tokens invalid
func (m *tokenManager) expireAccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
}

// parseAccess validates access token and returns its subject
func (m *tokenManager) parseAccess(access string) (string, error) {
	claims := &AccessTokenClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("error while parsing or validating token. Err: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if claims.Generation < m.generation {
		return "", errors.New("token expired")
	}

	return claims.Subject, nil
}
