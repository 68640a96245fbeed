// Package session is the single source of truth for authentication state and user preferences.
//
// The store is the only writer of the token pair in durable storage. Everything else
// (the request gateway, auth flows, the CLI) reads through it and observes changes
// through Subscribe.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nkiryanov/agentmon/internal/apperrors"
	"github.com/nkiryanov/agentmon/internal/logger"
	"github.com/nkiryanov/agentmon/internal/models"
	"github.com/nkiryanov/agentmon/internal/storage"
)

// Key of persisted preferences record
const PreferencesKey = "auth-storage"

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

type Language string

const (
	LanguageVI Language = "vi"
	LanguageEN Language = "en"
)

type Status int

const (
	StatusLoggedOut Status = iota

	// Token is present in storage but identity is not verified yet.
	// It is NOT authenticated
	StatusPendingVerification

	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusLoggedOut:
		return "logged_out"
	case StatusPendingVerification:
		return "pending_verification"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

type Preferences struct {
	Theme    Theme    `json:"theme"`
	Language Language `json:"language"`
}

func DefaultPreferences() Preferences {
	return Preferences{Theme: ThemeLight, Language: LanguageVI}
}

// State is a copy of session state for readers
type State struct {
	User        *models.User
	Status      Status
	Preferences Preferences

	// Bumped every time the token pair is replaced or removed
	Generation uint64
}

func (s State) IsAuthenticated() bool {
	return s.User != nil
}

type Store struct {
	storage storage.Storage
	logger  logger.Logger

	mu    sync.RWMutex
	state State

	subsMu sync.Mutex
	subs   map[chan Event]struct{}
}

// New creates logged out session and loads persisted preferences
func New(ctx context.Context, st storage.Storage, l logger.Logger) (*Store, error) {
	if st == nil {
		return nil, errors.New("storage must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	prefs, err := loadPreferences(ctx, st)
	if err != nil {
		return nil, err
	}

	return &Store{
		storage: st,
		logger:  l.With("component", "session"),
		state:   State{Status: StatusLoggedOut, Preferences: prefs},
		subs:    make(map[chan Event]struct{}),
	}, nil
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.copyState()
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.User != nil
}

func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Generation
}

// Login persists token pair and marks session authenticated with user
func (s *Store) Login(ctx context.Context, user models.User, pair models.TokenPair) error {
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return errors.New("token pair must contain both tokens")
	}

	s.mu.Lock()

	if err := s.storage.Set(ctx, models.AccessTokenKey, pair.AccessToken); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error while saving access token. Err: %w", err)
	}
	if err := s.storage.Set(ctx, models.RefreshTokenKey, pair.RefreshToken); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	s.state.User = &user
	s.state.Status = StatusAuthenticated
	s.state.Generation++
	state := s.copyState()
	s.mu.Unlock()

	s.logger.Info("Logged in", "username", user.Username)
	s.publish(Event{Kind: EventLogin, State: state})
	return nil
}

// Logout removes tokens and clears user. Safe to call when already logged out
func (s *Store) Logout(ctx context.Context) error {
	_, err := s.logout(ctx, nil, "")
	return err
}

// ExpireSession is forced logout, e.g. when token could not be refreshed.
// Nothing happens if a login or logout took place since generation.
// Subscribers get EventExpired with the reason
func (s *Store) ExpireSession(ctx context.Context, generation uint64, reason string) (bool, error) {
	return s.logout(ctx, &generation, reason)
}

func (s *Store) logout(ctx context.Context, generation *uint64, reason string) (bool, error) {
	s.mu.Lock()

	if generation != nil && *generation != s.state.Generation {
		current := s.state.Generation
		s.mu.Unlock()
		s.logger.Debug("Session expiration skipped, session changed", "generation", *generation, "current", current)
		return false, nil
	}

	if err := s.storage.Delete(ctx, models.AccessTokenKey, models.RefreshTokenKey); err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("error while removing tokens. Err: %w", err)
	}

	if s.state.User == nil && s.state.Status == StatusLoggedOut && reason == "" {
		s.mu.Unlock()
		return false, nil
	}

	s.state.User = nil
	s.state.Status = StatusLoggedOut
	s.state.Generation++
	state := s.copyState()
	s.mu.Unlock()

	kind := EventLogout
	if reason != "" {
		kind = EventExpired
		s.logger.Warn("Session expired", "reason", reason)
	} else {
		s.logger.Info("Logged out")
	}

	s.publish(Event{Kind: kind, State: state, Reason: reason})
	return true, nil
}

// SetUser sets user; session is authenticated iff user is not nil
func (s *Store) SetUser(user *models.User) {
	s.mu.Lock()

	if user == nil {
		s.state.User = nil
		s.state.Status = StatusLoggedOut
	} else {
		u := *user
		s.state.User = &u
		s.state.Status = StatusAuthenticated
	}
	state := s.copyState()
	s.mu.Unlock()

	s.publish(Event{Kind: EventUserChanged, State: state})
}

// Restore is called on start: a stored access token makes session pending verification.
// The token is not trusted until identity is fetched with it
func (s *Store) Restore(ctx context.Context) (Status, error) {
	token, err := s.AccessToken(ctx)
	if err != nil {
		return StatusLoggedOut, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if token != "" && s.state.User == nil {
		s.state.Status = StatusPendingVerification
	}
	return s.state.Status, nil
}

// AccessToken returns stored access token or empty string if there is none
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.token(ctx, models.AccessTokenKey)
}

// RefreshToken returns stored refresh token or empty string if there is none
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	return s.token(ctx, models.RefreshTokenKey)
}

func (s *Store) token(ctx context.Context, key string) (string, error) {
	value, err := s.storage.Get(ctx, key)
	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, apperrors.ErrKeyNotFound):
		return "", nil
	default:
		return "", fmt.Errorf("error while reading %s. Err: %w", key, err)
	}
}

// ReplaceAccessToken saves refreshed access token if no login or logout happened since generation.
// Returns false if the token was discarded
func (s *Store) ReplaceAccessToken(ctx context.Context, generation uint64, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Generation != generation {
		s.logger.Debug("Refreshed token discarded, session changed", "generation", generation, "current", s.state.Generation)
		return false, nil
	}

	if err := s.storage.Set(ctx, models.AccessTokenKey, token); err != nil {
		return false, fmt.Errorf("error while saving access token. Err: %w", err)
	}
	return true, nil
}

// SaveTokens persists token pair and bumps generation. Identity of the previous pair
// is dropped: the session stays pending verification until the new identity is fetched
func (s *Store) SaveTokens(ctx context.Context, pair models.TokenPair) error {
	s.mu.Lock()

	if err := s.storage.Set(ctx, models.AccessTokenKey, pair.AccessToken); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error while saving access token. Err: %w", err)
	}
	if err := s.storage.Set(ctx, models.RefreshTokenKey, pair.RefreshToken); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	hadUser := s.state.User != nil
	s.state.User = nil
	s.state.Status = StatusPendingVerification
	s.state.Generation++
	state := s.copyState()
	s.mu.Unlock()

	if hadUser {
		s.publish(Event{Kind: EventUserChanged, State: state})
	}
	return nil
}

func (s *Store) ToggleTheme(ctx context.Context) (Theme, error) {
	s.mu.Lock()

	prefs := s.state.Preferences
	if prefs.Theme == ThemeLight {
		prefs.Theme = ThemeDark
	} else {
		prefs.Theme = ThemeLight
	}

	if err := s.savePreferences(ctx, prefs); err != nil {
		s.mu.Unlock()
		return "", err
	}
	state := s.copyState()
	s.mu.Unlock()

	s.publish(Event{Kind: EventPreferences, State: state})
	return prefs.Theme, nil
}

func (s *Store) SetLanguage(ctx context.Context, lang Language) error {
	if lang != LanguageVI && lang != LanguageEN {
		return fmt.Errorf("language %q: %w", lang, apperrors.ErrInvalidPreference)
	}

	s.mu.Lock()

	prefs := s.state.Preferences
	prefs.Language = lang
	if err := s.savePreferences(ctx, prefs); err != nil {
		s.mu.Unlock()
		return err
	}
	state := s.copyState()
	s.mu.Unlock()

	s.publish(Event{Kind: EventPreferences, State: state})
	return nil
}

// savePreferences must be called with mu held
func (s *Store) savePreferences(ctx context.Context, prefs Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("error while encoding preferences. Err: %w", err)
	}
	if err := s.storage.Set(ctx, PreferencesKey, string(data)); err != nil {
		return fmt.Errorf("error while saving preferences. Err: %w", err)
	}

	s.state.Preferences = prefs
	return nil
}

// copyState must be called with mu held
func (s *Store) copyState() State {
	state := s.state
	if state.User != nil {
		u := *state.User
		state.User = &u
	}
	return state
}

func loadPreferences(ctx context.Context, st storage.Storage) (Preferences, error) {
	prefs := DefaultPreferences()

	raw, err := st.Get(ctx, PreferencesKey)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrKeyNotFound):
		return prefs, nil
	default:
		return prefs, fmt.Errorf("error while loading preferences. Err: %w", err)
	}

	// Broken record is not fatal: fall back to defaults
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return DefaultPreferences(), nil
	}
	if prefs.Theme != ThemeLight && prefs.Theme != ThemeDark {
		prefs.Theme = ThemeLight
	}
	if prefs.Language != LanguageVI && prefs.Language != LanguageEN {
		prefs.Language = LanguageVI
	}
	return prefs, nil
}
