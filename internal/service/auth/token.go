package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nkiryanov/agentmon/internal/session"
)

// Info describes current session for display
type Info struct {
	State session.State

	HasToken bool

	// Zero if token has no expiry or is not a JWT
	AccessExpiresAt time.Time
}

// Expired reports whether access token expiry is known and passed
func (i Info) Expired(now time.Time) bool {
	return !i.AccessExpiresAt.IsZero() && now.After(i.AccessExpiresAt)
}

// AccessTokenExpiry reads exp claim of access token.
// Signature is not verified: the client never has the key, the server does the check
func AccessTokenExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}

	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("error while parsing token. Err: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no expiry")
	}

	return claims.ExpiresAt.Time, nil
}

// Info returns session state with access token details
func (s *Service) Info(ctx context.Context) (Info, error) {
	info := Info{State: s.session.Snapshot()}

	access, err := s.session.AccessToken(ctx)
	if err != nil {
		return info, err
	}
	if access == "" {
		return info, nil
	}
	info.HasToken = true

	expiresAt, err := AccessTokenExpiry(access)
	if err != nil {
		s.logger.Debug("Access token expiry unknown", "error", err)
		return info, nil
	}
	info.AccessExpiresAt = expiresAt

	return info, nil
}
