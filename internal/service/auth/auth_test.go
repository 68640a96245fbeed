package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/agentmon/internal/api"
	"github.com/nkiryanov/agentmon/internal/apperrors"
	"github.com/nkiryanov/agentmon/internal/gateway"
	"github.com/nkiryanov/agentmon/internal/models"
	"github.com/nkiryanov/agentmon/internal/session"
	"github.com/nkiryanov/agentmon/internal/storage"
	"github.com/nkiryanov/agentmon/internal/testutil/fakeapi"
)

type testEnv struct {
	srv     *fakeapi.Server
	storage *storage.Memory
	session *session.Store
	service *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, fakeapi.New(t), storage.NewMemory())
}

// newTestEnvWith builds new session on top of storage, like a fresh process start
func newTestEnvWith(t *testing.T, srv *fakeapi.Server, st *storage.Memory) *testEnv {
	t.Helper()

	sess, err := session.New(t.Context(), st, nil)
	require.NoError(t, err)

	refresher := api.NewRefresher(srv.URL, 2*time.Second, nil, nil)
	gw, err := gateway.New(gateway.Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, sess, refresher, nil, nil)
	require.NoError(t, err)

	service, err := NewService(api.NewClient(gw).Auth, sess, nil)
	require.NoError(t, err)

	return &testEnv{srv: srv, storage: st, session: sess, service: service}
}

func (e *testEnv) requireNoTokens(t *testing.T) {
	t.Helper()

	_, err := e.storage.Get(t.Context(), models.AccessTokenKey)
	require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	_, err = e.storage.Get(t.Context(), models.RefreshTokenKey)
	require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
}

func TestService_Login(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		e := newTestEnv(t)

		user, err := e.service.Login(t.Context(), fakeapi.Username, fakeapi.Password)

		require.NoError(t, err)
		require.Equal(t, fakeapi.Username, user.Username)

		state := e.session.Snapshot()
		require.Equal(t, session.StatusAuthenticated, state.Status)
		require.Equal(t, fakeapi.Username, state.User.Username)

		access, err := e.session.AccessToken(t.Context())
		require.NoError(t, err)
		require.NotEmpty(t, access)
		require.Equal(t, 1, e.srv.Calls(fakeapi.RouteMe))
	})

	t.Run("wrong password", func(t *testing.T) {
		e := newTestEnv(t)

		_, err := e.service.Login(t.Context(), fakeapi.Username, "wrong")

		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.Equal(t, session.StatusLoggedOut, e.session.Snapshot().Status)
		require.Zero(t, e.srv.Calls(fakeapi.RouteMe))
		e.requireNoTokens(t)
	})

	t.Run("empty credentials rejected before request", func(t *testing.T) {
		e := newTestEnv(t)

		_, err := e.service.Login(t.Context(), "", "")

		var validationErr *apperrors.ValidationError
		require.ErrorAs(t, err, &validationErr)
		require.Zero(t, e.srv.Calls(fakeapi.RouteLogin))
	})

	t.Run("identity not fetched removes tokens", func(t *testing.T) {
		e := newTestEnv(t)
		e.srv.SetFailure(fakeapi.RouteMe, http.StatusInternalServerError)

		_, err := e.service.Login(t.Context(), fakeapi.Username, fakeapi.Password)

		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		require.Equal(t, session.StatusLoggedOut, e.session.Snapshot().Status)
		e.requireNoTokens(t)
	})
}

func TestService_Register(t *testing.T) {
	e := newTestEnv(t)

	user, err := e.service.Register(t.Context(), models.RegisterRequest{
		Username: "operator",
		Email:    "operator@example.com",
		Password: "secret-pass",
	})
	require.NoError(t, err)
	require.Equal(t, "operator", user.Username)
	require.Equal(t, session.StatusLoggedOut, e.session.Snapshot().Status, "register should not log in")

	_, err = e.service.Login(t.Context(), "operator", "secret-pass")
	require.NoError(t, err, "registered user should be able to log in")

	_, err = e.service.Register(t.Context(), models.RegisterRequest{
		Username: "operator",
		Email:    "other@example.com",
		Password: "secret-pass",
	})
	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "Username already registered", apiErr.Detail)
}

func TestService_Logout(t *testing.T) {
	t.Run("notifies server", func(t *testing.T) {
		e := newTestEnv(t)
		_, err := e.service.Login(t.Context(), fakeapi.Username, fakeapi.Password)
		require.NoError(t, err)

		err = e.service.Logout(t.Context())

		require.NoError(t, err)
		require.Equal(t, 1, e.srv.Calls(fakeapi.RouteLogout))
		require.Equal(t, session.StatusLoggedOut, e.session.Snapshot().Status)
		e.requireNoTokens(t)
	})

	t.Run("server failure does not block local logout", func(t *testing.T) {
		e := newTestEnv(t)
		_, err := e.service.Login(t.Context(), fakeapi.Username, fakeapi.Password)
		require.NoError(t, err)
		e.srv.SetFailure(fakeapi.RouteLogout, http.StatusBadGateway)

		err = e.service.Logout(t.Context())

		require.NoError(t, err)
		require.Equal(t, session.StatusLoggedOut, e.session.Snapshot().Status)
		e.requireNoTokens(t)
	})

	t.Run("no token no request", func(t *testing.T) {
		e := newTestEnv(t)

		err := e.service.Logout(t.Context())

		require.NoError(t, err)
		require.Zero(t, e.srv.Calls(fakeapi.RouteLogout))
	})
}

func TestService_Restore(t *testing.T) {
	// persisted builds environment whose storage holds tokens of previous run
	persisted := func(t *testing.T) *testEnv {
		prev := newTestEnv(t)
		_, err := prev.service.Login(t.Context(), fakeapi.Username, fakeapi.Password)
		require.NoError(t, err)

		return newTestEnvWith(t, prev.srv, prev.storage)
	}

	t.Run("valid token", func(t *testing.T) {
		e := persisted(t)

		status, err := e.service.Restore(t.Context())

		require.NoError(t, err)
		require.Equal(t, session.StatusAuthenticated, status)
		require.Equal(t, fakeapi.Username, e.session.Snapshot().User.Username)
	})

	t.Run("expired token is refreshed", func(t *testing.T) {
		e := persisted(t)
		before, err := e.session.AccessToken(t.Context())
		require.NoError(t, err)
		e.srv.ExpireAccessTokens()

		status, err := e.service.Restore(t.Context())

		require.NoError(t, err)
		require.Equal(t, session.StatusAuthenticated, status)
		require.Equal(t, 1, e.srv.Calls(fakeapi.RouteRefresh))

		after, err := e.session.AccessToken(t.Context())
		require.NoError(t, err)
		require.NotEqual(t, before, after)
	})

	t.Run("refresh rejected ends session", func(t *testing.T) {
		e := persisted(t)
		e.srv.ExpireAccessTokens()
		e.srv.RejectRefresh()

		status, err := e.service.Restore(t.Context())

		require.NoError(t, err)
		require.Equal(t, session.StatusLoggedOut, status)
		require.Equal(t, session.StatusLoggedOut, e.session.Snapshot().Status)
		e.requireNoTokens(t)
	})

	t.Run("server error keeps session pending", func(t *testing.T) {
		e := persisted(t)
		e.srv.SetFailure(fakeapi.RouteMe, http.StatusServiceUnavailable)

		status, err := e.service.Restore(t.Context())

		require.Error(t, err)
		require.Equal(t, session.StatusPendingVerification, status)

		access, err := e.session.AccessToken(t.Context())
		require.NoError(t, err)
		require.NotEmpty(t, access, "tokens should stay for later verification")
	})

	t.Run("nothing stored", func(t *testing.T) {
		e := newTestEnv(t)

		status, err := e.service.Restore(t.Context())

		require.NoError(t, err)
		require.Equal(t, session.StatusLoggedOut, status)
		require.Zero(t, e.srv.Calls(fakeapi.RouteMe))
	})
}

func TestAccessTokenExpiry(t *testing.T) {
	t.Run("issued token", func(t *testing.T) {
		srv := fakeapi.New(t)
		pair := srv.IssueTokens(t)

		expiresAt, err := AccessTokenExpiry(pair.AccessToken)

		require.NoError(t, err)
		require.WithinDuration(t, time.Now().Add(30*time.Minute), expiresAt, time.Minute)
	})

	t.Run("no expiry", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u"}).SignedString([]byte("k"))
		require.NoError(t, err)

		_, err = AccessTokenExpiry(token)

		require.Error(t, err)
	})

	t.Run("not a jwt", func(t *testing.T) {
		_, err := AccessTokenExpiry("opaque")

		require.Error(t, err)
	})
}

func TestService_Info(t *testing.T) {
	e := newTestEnv(t)

	info, err := e.service.Info(t.Context())
	require.NoError(t, err)
	require.False(t, info.HasToken)
	require.False(t, info.Expired(time.Now()))

	_, err = e.service.Login(t.Context(), fakeapi.Username, fakeapi.Password)
	require.NoError(t, err)

	info, err = e.service.Info(t.Context())
	require.NoError(t, err)
	require.True(t, info.HasToken)
	require.True(t, info.State.IsAuthenticated())
	require.False(t, info.Expired(time.Now()))
	require.True(t, info.Expired(time.Now().Add(time.Hour)))
}
