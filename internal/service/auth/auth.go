package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/nkiryanov/agentmon/internal/apperrors"
	"github.com/nkiryanov/agentmon/internal/logger"
	"github.com/nkiryanov/agentmon/internal/models"
	"github.com/nkiryanov/agentmon/internal/session"
)

// API endpoints the service needs, implemented by *api.AuthAPI
type authAPI interface {
	Login(ctx context.Context, req models.LoginRequest) (models.TokenPair, error)
	Register(ctx context.Context, req models.RegisterRequest) (models.User, error)
	Me(ctx context.Context) (models.User, error)
	Logout(ctx context.Context) error
}

// Session operations the service needs, implemented by *session.Store
type sessionStore interface {
	Login(ctx context.Context, user models.User, pair models.TokenPair) error
	Logout(ctx context.Context) error
	SaveTokens(ctx context.Context, pair models.TokenPair) error
	SetUser(user *models.User)
	Restore(ctx context.Context) (session.Status, error)
	Snapshot() session.State
	AccessToken(ctx context.Context) (string, error)
}

// Auth service composes API calls and session changes into user level flows
type Service struct {
	api     authAPI
	session sessionStore
	logger  logger.Logger
}

func NewService(api authAPI, s sessionStore, l logger.Logger) (*Service, error) {
	if api == nil || s == nil {
		return nil, errors.New("api and session must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		api:     api,
		session: s,
		logger:  l.With("component", "auth"),
	}, nil
}

// Login exchanges credentials for tokens, fetches identity and only then marks session authenticated.
// If identity can't be fetched the tokens are removed again
func (s *Service) Login(ctx context.Context, username string, password string) (models.User, error) {
	pair, err := s.api.Login(ctx, models.LoginRequest{Username: username, Password: password})
	if err != nil {
		return models.User{}, err
	}

	// Identity request must carry the new token
	if err := s.session.SaveTokens(ctx, pair); err != nil {
		return models.User{}, err
	}

	user, err := s.api.Me(ctx)
	if err != nil {
		if logoutErr := s.session.Logout(ctx); logoutErr != nil {
			s.logger.Error("Failed to remove tokens after failed login", "error", logoutErr)
		}
		return models.User{}, fmt.Errorf("error while fetching user. Err: %w", err)
	}

	// The token could be refreshed while fetching identity
	access, err := s.session.AccessToken(ctx)
	if err != nil {
		return models.User{}, err
	}
	if access != "" {
		pair.AccessToken = access
	}

	if err := s.session.Login(ctx, user, pair); err != nil {
		return models.User{}, err
	}

	s.logger.Info("User logged in", "username", user.Username)
	return user, nil
}

// Register creates account. It does not log in
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (models.User, error) {
	user, err := s.api.Register(ctx, req)
	if err != nil {
		return models.User{}, err
	}

	s.logger.Info("User registered", "username", user.Username)
	return user, nil
}

// Logout notifies server if there is a token and always clears local session.
// Server failure is only logged: local logout must never be blocked by the network
func (s *Service) Logout(ctx context.Context) error {
	access, err := s.session.AccessToken(ctx)
	if err != nil {
		s.logger.Warn("Failed to read access token", "error", err)
	}

	if access != "" {
		if err := s.api.Logout(ctx); err != nil {
			s.logger.Warn("Server logout failed", "error", err)
		}
	}

	return s.session.Logout(ctx)
}

// Restore picks up session persisted by previous run and verifies it by fetching identity.
//
// Stored token alone never authenticates. Auth failures end the session; other errors keep it
// pending so it can be verified later
func (s *Service) Restore(ctx context.Context) (session.Status, error) {
	status, err := s.session.Restore(ctx)
	if err != nil {
		return status, err
	}
	if status != session.StatusPendingVerification {
		return status, nil
	}

	user, err := s.api.Me(ctx)
	switch {
	case err == nil:
		s.session.SetUser(&user)
		s.logger.Debug("Session restored", "username", user.Username)
		return session.StatusAuthenticated, nil

	case errors.Is(err, apperrors.ErrUnauthorized), errors.Is(err, apperrors.ErrRefreshFailed):
		s.logger.Info("Stored session is no longer valid", "error", err)
		if err := s.session.Logout(ctx); err != nil {
			return session.StatusLoggedOut, err
		}
		return session.StatusLoggedOut, nil

	default:
		return s.session.Snapshot().Status, fmt.Errorf("error while verifying session. Err: %w", err)
	}
}
