package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/agentmon/internal/apperrors"
	"github.com/nkiryanov/agentmon/internal/gateway"
	"github.com/nkiryanov/agentmon/internal/models"
	"github.com/nkiryanov/agentmon/internal/session"
	"github.com/nkiryanov/agentmon/internal/storage"
	"github.com/nkiryanov/agentmon/internal/testutil/fakeapi"
)

type testEnv struct {
	srv       *fakeapi.Server
	session   *session.Store
	refresher *Refresher
	client    *Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	srv := fakeapi.New(t)

	sess, err := session.New(t.Context(), storage.NewMemory(), nil)
	require.NoError(t, err)

	refresher := NewRefresher(srv.URL, 2*time.Second, nil, nil)
	gw, err := gateway.New(gateway.Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, sess, refresher, nil, nil)
	require.NoError(t, err)

	return &testEnv{srv: srv, session: sess, refresher: refresher, client: NewClient(gw)}
}

// login stores tokens of seeded account in session
func (e *testEnv) login(t *testing.T) models.TokenPair {
	t.Helper()

	pair := e.srv.IssueTokens(t)
	err := e.session.Login(t.Context(), models.User{ID: "admin-id", Username: fakeapi.Username}, pair)
	require.NoError(t, err)
	return pair
}

func requireValidationError(t *testing.T, err error, field string) {
	t.Helper()

	var validationErr *apperrors.ValidationError
	require.ErrorAs(t, err, &validationErr, "should be validation error")
	require.Contains(t, validationErr.Fields, field)
}

func TestAuthAPI_Login(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		e := newTestEnv(t)

		pair, err := e.client.Auth.Login(t.Context(), models.LoginRequest{Username: fakeapi.Username, Password: fakeapi.Password})

		require.NoError(t, err)
		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)
		require.Equal(t, "bearer", pair.TokenType)
	})

	t.Run("wrong password", func(t *testing.T) {
		e := newTestEnv(t)

		_, err := e.client.Auth.Login(t.Context(), models.LoginRequest{Username: fakeapi.Username, Password: "wrong"})

		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		require.Equal(t, "Incorrect username or password", apiErr.Detail)
		require.Zero(t, e.srv.Calls(fakeapi.RouteRefresh), "wrong credentials must not trigger refresh")
	})

	t.Run("validation", func(t *testing.T) {
		e := newTestEnv(t)

		_, err := e.client.Auth.Login(t.Context(), models.LoginRequest{Username: fakeapi.Username})

		requireValidationError(t, err, "password")
		require.Zero(t, e.srv.Calls(fakeapi.RouteLogin), "invalid payload must not be sent")
	})
}

func TestAuthAPI_Register(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		e := newTestEnv(t)

		user, err := e.client.Auth.Register(t.Context(), models.RegisterRequest{Username: "nik", Email: "nik@example.com", Password: "secret1"})

		require.NoError(t, err)
		require.Equal(t, "nik", user.Username)
		require.Equal(t, models.RoleUser, user.Role)
		require.True(t, user.IsActive)
		require.NotEmpty(t, user.ID)

		_, err = e.client.Auth.Login(t.Context(), models.LoginRequest{Username: "nik", Password: "secret1"})
		require.NoError(t, err, "registered user should be able to login")
	})

	t.Run("duplicate", func(t *testing.T) {
		e := newTestEnv(t)

		_, err := e.client.Auth.Register(t.Context(), models.RegisterRequest{Username: fakeapi.Username, Email: "other@example.com", Password: "secret1"})

		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		require.Equal(t, "Username already registered", apiErr.Detail)
	})

	t.Run("validation", func(t *testing.T) {
		e := newTestEnv(t)

		_, err := e.client.Auth.Register(t.Context(), models.RegisterRequest{Username: "ab", Email: "not-an-email", Password: "123"})

		var validationErr *apperrors.ValidationError
		require.ErrorAs(t, err, &validationErr)
		require.Equal(t, "Value is too short (minimum 3)", validationErr.Fields["username"])
		require.Equal(t, "Invalid email address", validationErr.Fields["email"])
		require.Equal(t, "Value is too short (minimum 6)", validationErr.Fields["password"])
		require.Zero(t, e.srv.Calls(fakeapi.RouteRegister))
	})
}

func TestAuthAPI_Me(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		e := newTestEnv(t)
		e.login(t)

		user, err := e.client.Auth.Me(t.Context())

		require.NoError(t, err)
		require.Equal(t, fakeapi.Username, user.Username)
		require.Equal(t, models.RoleAdmin, user.Role)
	})

	t.Run("expired token is refreshed", func(t *testing.T) {
		e := newTestEnv(t)
		pair := e.login(t)
		e.srv.ExpireAccessTokens()

		user, err := e.client.Auth.Me(t.Context())

		require.NoError(t, err)
		require.Equal(t, fakeapi.Username, user.Username)
		require.Equal(t, 1, e.srv.Calls(fakeapi.RouteRefresh))
		require.Equal(t, 2, e.srv.Calls(fakeapi.RouteMe))

		access, err := e.session.AccessToken(t.Context())
		require.NoError(t, err)
		require.NotEqual(t, pair.AccessToken, access, "new access token should be stored")
		refresh, err := e.session.RefreshToken(t.Context())
		require.NoError(t, err)
		require.Equal(t, pair.RefreshToken, refresh)
	})

	t.Run("refresh rejected ends session", func(t *testing.T) {
		e := newTestEnv(t)
		e.login(t)
		e.srv.ExpireAccessTokens()
		e.srv.RejectRefresh()

		_, err := e.client.Auth.Me(t.Context())

		require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
		require.False(t, e.session.IsAuthenticated())
		access, err := e.session.AccessToken(t.Context())
		require.NoError(t, err)
		require.Empty(t, access)
	})
}

func TestAuthAPI_Logout(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	err := e.client.Auth.Logout(t.Context())

	require.NoError(t, err)
	require.Equal(t, 1, e.srv.Calls(fakeapi.RouteLogout))
}

func TestRefresher_Refresh(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		e := newTestEnv(t)
		pair := e.srv.IssueTokens(t)

		access, err := e.refresher.Refresh(t.Context(), pair.RefreshToken)

		require.NoError(t, err)
		require.NotEmpty(t, access)
		require.NotEqual(t, pair.AccessToken, access)
	})

	t.Run("unknown token", func(t *testing.T) {
		e := newTestEnv(t)

		_, err := e.refresher.Refresh(t.Context(), "unknown")

		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, "Invalid refresh token", apiErr.Detail)
	})

	t.Run("empty token", func(t *testing.T) {
		e := newTestEnv(t)

		_, err := e.refresher.Refresh(t.Context(), "")

		requireValidationError(t, err, "refresh_token")
		require.Zero(t, e.srv.Calls(fakeapi.RouteRefresh))
	})

	t.Run("server down", func(t *testing.T) {
		e := newTestEnv(t)
		e.srv.Close()

		_, err := e.refresher.Refresh(t.Context(), "R1")

		require.ErrorIs(t, err, apperrors.ErrTransport)
	})
}
