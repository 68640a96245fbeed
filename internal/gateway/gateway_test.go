package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/agentmon/internal/apperrors"
	"github.com/nkiryanov/agentmon/internal/models"
	"github.com/nkiryanov/agentmon/internal/session"
	"github.com/nkiryanov/agentmon/internal/storage"
)

type refresherFunc func(ctx context.Context, refreshToken string) (string, error)

func (f refresherFunc) Refresh(ctx context.Context, refreshToken string) (string, error) {
	return f(ctx, refreshToken)
}

// api answers 200 only to the currently valid access token
type api struct {
	srv   *httptest.Server
	valid atomic.Value

	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
}

func newAPI(t *testing.T, validToken string) *api {
	t.Helper()

	a := &api{}
	a.valid.Store(validToken)
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		a.mu.Lock()
		a.requests = append(a.requests, r.Clone(context.Background()))
		a.bodies = append(a.bodies, string(body))
		a.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+a.valid.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(a.srv.Close)

	return a
}

func (a *api) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func (a *api) authorizations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := make([]string, 0, len(a.requests))
	for _, r := range a.requests {
		res = append(res, r.Header.Get("Authorization"))
	}
	return res
}

type env struct {
	gw        *Gateway
	session   *session.Store
	storage   *storage.Memory
	metrics   *Metrics
	redirects atomic.Int32
}

func newEnv(t *testing.T, baseURL string, refresher Refresher, opts ...Option) *env {
	t.Helper()

	e := &env{storage: storage.NewMemory(), metrics: NewMetrics(prometheus.NewRegistry())}

	var err error
	e.session, err = session.New(t.Context(), e.storage, nil)
	require.NoError(t, err)

	nav := NavigatorFunc(func(string) { e.redirects.Add(1) })
	opts = append([]Option{WithMetrics(e.metrics)}, opts...)

	e.gw, err = New(Config{BaseURL: baseURL, Timeout: time.Second}, e.session, refresher, nav, nil, opts...)
	require.NoError(t, err, "gateway should be created")

	return e
}

func (e *env) login(t *testing.T, access string, refresh string) {
	t.Helper()
	err := e.session.Login(t.Context(), models.User{ID: "u1", Username: "nk"}, models.TokenPair{AccessToken: access, RefreshToken: refresh})
	require.NoError(t, err)
}

func (e *env) tokens(t *testing.T) (string, string) {
	t.Helper()
	access, err := e.session.AccessToken(t.Context())
	require.NoError(t, err)
	refresh, err := e.session.RefreshToken(t.Context())
	require.NoError(t, err)
	return access, refresh
}

func noRefresh(t *testing.T) Refresher {
	return refresherFunc(func(context.Context, string) (string, error) {
		t.Error("refresh must not be called")
		return "", errors.New("unexpected refresh")
	})
}

func TestNew(t *testing.T) {
	st, err := session.New(t.Context(), storage.NewMemory(), nil)
	require.NoError(t, err)

	t.Run("defaults", func(t *testing.T) {
		gw, err := New(Config{}, st, noRefresh(t), nil, nil)

		require.NoError(t, err)
		require.Equal(t, DefaultBaseURL, gw.baseURL.String())
		require.Equal(t, DefaultTimeout, gw.timeout)
	})

	t.Run("invalid base url", func(t *testing.T) {
		_, err := New(Config{BaseURL: "localhost"}, st, noRefresh(t), nil, nil)

		require.Error(t, err)
	})

	t.Run("refresher required", func(t *testing.T) {
		_, err := New(Config{}, st, nil, nil, nil)

		require.Error(t, err)
	})
}

func TestGateway_Do(t *testing.T) {
	t.Run("attach token and headers", func(t *testing.T) {
		a := newAPI(t, "A1")
		e := newEnv(t, a.srv.URL, noRefresh(t))
		e.login(t, "A1", "R1")

		resp, err := e.gw.Do(t.Context(), &Request{
			Method: http.MethodPost,
			Path:   "/api/v1/projects/",
			Query:  url.Values{"page": {"2"}},
			Body:   map[string]string{"name": "demo"},
		})

		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var payload map[string]bool
		require.NoError(t, resp.Decode(&payload))
		require.True(t, payload["ok"])

		require.Equal(t, 1, a.count())
		r := a.requests[0]
		require.Equal(t, "Bearer A1", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		require.NotEmpty(t, r.Header.Get(RequestIDHeader))
		require.Equal(t, "/api/v1/projects/", r.URL.Path)
		require.Equal(t, "2", r.URL.Query().Get("page"))
		require.JSONEq(t, `{"name":"demo"}`, a.bodies[0])
	})

	t.Run("no token, no header", func(t *testing.T) {
		a := newAPI(t, "A1")
		e := newEnv(t, a.srv.URL, noRefresh(t))

		_, err := e.gw.Do(t.Context(), &Request{Path: "/api/v1/auth/me"})

		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.Equal(t, []string{""}, a.authorizations())
	})

	t.Run("refresh and resend once", func(t *testing.T) {
		a := newAPI(t, "A2")
		var refreshedWith []string
		refresher := refresherFunc(func(_ context.Context, refreshToken string) (string, error) {
			refreshedWith = append(refreshedWith, refreshToken)
			return "A2", nil
		})
		e := newEnv(t, a.srv.URL, refresher)
		e.login(t, "A1", "R1")

		resp, err := e.gw.Do(t.Context(), &Request{Path: "/api/v1/tasks/"})

		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, []string{"R1"}, refreshedWith)
		require.Equal(t, []string{"Bearer A1", "Bearer A2"}, a.authorizations())

		access, refresh := e.tokens(t)
		require.Equal(t, "A2", access)
		require.Equal(t, "R1", refresh, "refresh token must stay the same")
		require.True(t, e.session.IsAuthenticated())
		require.Zero(t, e.redirects.Load())

		require.InDelta(t, 1, promtest.ToFloat64(e.metrics.Refreshes.WithLabelValues(refreshSucceeded)), 0)
		require.InDelta(t, 1, promtest.ToFloat64(e.metrics.Retries), 0)
		require.InDelta(t, 1, promtest.ToFloat64(e.metrics.Requests.WithLabelValues("GET", "401")), 0)
		require.InDelta(t, 1, promtest.ToFloat64(e.metrics.Requests.WithLabelValues("GET", "200")), 0)
	})

	t.Run("body is resent", func(t *testing.T) {
		a := newAPI(t, "A2")
		e := newEnv(t, a.srv.URL, refresherFunc(func(context.Context, string) (string, error) { return "A2", nil }))
		e.login(t, "A1", "R1")

		_, err := e.gw.Do(t.Context(), &Request{Method: http.MethodPut, Path: "/api/v1/tasks/1", Body: []byte(`{"status":"completed"}`)})

		require.NoError(t, err)
		require.Equal(t, []string{`{"status":"completed"}`, `{"status":"completed"}`}, a.bodies)
	})

	t.Run("refresh rejected", func(t *testing.T) {
		a := newAPI(t, "A2")
		rejected := &apperrors.APIError{StatusCode: http.StatusUnauthorized, Detail: "Invalid refresh token"}
		e := newEnv(t, a.srv.URL, refresherFunc(func(context.Context, string) (string, error) { return "", rejected }))
		e.login(t, "A1", "R1")

		resp, err := e.gw.Do(t.Context(), &Request{Path: "/api/v1/tasks/"})

		require.Nil(t, resp)
		var refreshErr *apperrors.RefreshError
		require.ErrorAs(t, err, &refreshErr)
		require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
		require.ErrorIs(t, refreshErr.Cause, rejected)
		require.Equal(t, 1, a.count(), "request must not be resent")

		access, refresh := e.tokens(t)
		require.Empty(t, access)
		require.Empty(t, refresh)
		require.False(t, e.session.IsAuthenticated())
		require.Equal(t, int32(1), e.redirects.Load(), "should redirect to login")
		require.InDelta(t, 1, promtest.ToFloat64(e.metrics.ForcedLogouts), 0)
		require.InDelta(t, 1, promtest.ToFloat64(e.metrics.Refreshes.WithLabelValues(refreshFailed)), 0)
	})

	t.Run("no refresh token", func(t *testing.T) {
		a := newAPI(t, "A2")
		e := newEnv(t, a.srv.URL, noRefresh(t))
		require.NoError(t, e.storage.Set(t.Context(), models.AccessTokenKey, "A1"))
		status, err := e.session.Restore(t.Context())
		require.NoError(t, err)
		require.Equal(t, session.StatusPendingVerification, status)

		_, err = e.gw.Do(t.Context(), &Request{Path: "/api/v1/auth/me"})

		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr, "original 401 should be returned")
		require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		require.Equal(t, "Could not validate credentials", apiErr.Detail)

		access, _ := e.tokens(t)
		require.Empty(t, access)
		require.Equal(t, session.StatusLoggedOut, e.session.Snapshot().Status)
		require.Equal(t, int32(1), e.redirects.Load())
	})

	t.Run("401 after refresh is not refreshed again", func(t *testing.T) {
		a := newAPI(t, "never-valid")
		calls := 0
		e := newEnv(t, a.srv.URL, refresherFunc(func(context.Context, string) (string, error) {
			calls++
			return "A2", nil
		}))
		e.login(t, "A1", "R1")

		_, err := e.gw.Do(t.Context(), &Request{Path: "/api/v1/tasks/"})

		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.Equal(t, 1, calls, "refresh should be called once")
		require.Equal(t, 2, a.count(), "request should be sent twice")
		require.True(t, e.session.IsAuthenticated(), "second 401 doesn't end session")
		require.Zero(t, e.redirects.Load())
	})

	t.Run("retried request is not retried again", func(t *testing.T) {
		a := newAPI(t, "A2")
		e := newEnv(t, a.srv.URL, noRefresh(t))
		e.login(t, "A1", "R1")

		_, err := e.gw.Do(t.Context(), &Request{Path: "/api/v1/tasks/", retried: true})

		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.Equal(t, 1, a.count())
	})

	t.Run("token refreshed by other request", func(t *testing.T) {
		a := newAPI(t, "A2")
		e := newEnv(t, a.srv.URL, noRefresh(t))
		e.login(t, "A1", "R1")

		// Another request refreshes right after this one is sent
		e.gw.client = &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			resp, err := http.DefaultTransport.RoundTrip(r)
			if err == nil && resp.StatusCode == http.StatusUnauthorized {
				_, _ = e.session.ReplaceAccessToken(r.Context(), e.session.Generation(), "A2")
			}
			return resp, err
		})}

		resp, err := e.gw.Do(t.Context(), &Request{Path: "/api/v1/tasks/"})

		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, []string{"Bearer A1", "Bearer A2"}, a.authorizations())
	})

	t.Run("public request", func(t *testing.T) {
		a := newAPI(t, "A1")
		e := newEnv(t, a.srv.URL, noRefresh(t))
		e.login(t, "A1", "R1")

		_, err := e.gw.Do(t.Context(), &Request{Method: http.MethodPost, Path: "/api/v1/auth/login-json", Public: true})

		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.Equal(t, []string{""}, a.authorizations(), "public request is sent without token")
		require.True(t, e.session.IsAuthenticated())
		require.Zero(t, e.redirects.Load())
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestGateway_Do_Errors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Project not found"}`))
		}))
		defer srv.Close()
		e := newEnv(t, srv.URL, noRefresh(t))
		e.login(t, "A1", "R1")

		_, err := e.gw.Do(t.Context(), &Request{Path: "/api/v1/projects/42"})

		require.ErrorIs(t, err, apperrors.ErrNotFound)
		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, "Project not found", apiErr.Detail)
		require.True(t, e.session.IsAuthenticated(), "non 401 errors don't touch session")
	})

	t.Run("validation detail", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":[{"loc":["body","name"],"msg":"field required","type":"value_error.missing"},{"loc":["body","code"],"msg":"too long"}]}`))
		}))
		defer srv.Close()
		e := newEnv(t, srv.URL, noRefresh(t))

		_, err := e.gw.Do(t.Context(), &Request{Method: http.MethodPost, Path: "/api/v1/projects/"})

		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
		require.Equal(t, "field required; too long", apiErr.Detail)
	})

	t.Run("server error is not retried", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()
		e := newEnv(t, srv.URL, noRefresh(t))
		e.login(t, "A1", "R1")

		_, err := e.gw.Do(t.Context(), &Request{Path: "/api/v1/analytics/dashboard"})

		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		require.Equal(t, "boom", apiErr.Detail)
		require.Equal(t, 1, calls)
	})

	t.Run("transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		baseURL := srv.URL
		srv.Close()
		e := newEnv(t, baseURL, noRefresh(t))
		e.login(t, "A1", "R1")

		_, err := e.gw.Do(t.Context(), &Request{Path: "/api/v1/tasks/"})

		require.ErrorIs(t, err, apperrors.ErrTransport)
		require.True(t, e.session.IsAuthenticated(), "transport errors don't touch session")
		require.Zero(t, e.redirects.Load())
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()
		e := newEnv(t, srv.URL, noRefresh(t))
		e.login(t, "A1", "R1")
		e.gw.timeout = 50 * time.Millisecond

		_, err := e.gw.Do(t.Context(), &Request{Path: "/api/v1/tasks/"})

		require.ErrorIs(t, err, apperrors.ErrTransport)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.True(t, e.session.IsAuthenticated())
	})

	t.Run("body can't be encoded", func(t *testing.T) {
		e := newEnv(t, "http://localhost:1", noRefresh(t))

		_, err := e.gw.Do(t.Context(), &Request{Method: http.MethodPost, Path: "/x", Body: make(chan int)})

		require.Error(t, err)
		require.NotErrorIs(t, err, apperrors.ErrTransport)
	})
}

func TestGateway_Do_ConcurrentRefresh(t *testing.T) {
	a := newAPI(t, "A1")
	var refreshes atomic.Int32
	refresher := refresherFunc(func(context.Context, string) (string, error) {
		refreshes.Add(1)
		time.Sleep(50 * time.Millisecond)
		a.valid.Store("A2")
		return "A2", nil
	})
	e := newEnv(t, a.srv.URL, refresher)
	e.login(t, "A1", "R1")

	// A1 expires on the server
	a.valid.Store("expired")

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.gw.Do(t.Context(), &Request{Path: "/api/v1/tasks/"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err, "every request should succeed after refresh")
	}
	require.Equal(t, int32(1), refreshes.Load(), "concurrent 401s should share one refresh")

	access, _ := e.tokens(t)
	require.Equal(t, "A2", access)
}

func TestGateway_Do_RefreshRacesLogout(t *testing.T) {
	a := newAPI(t, "A2")
	started := make(chan struct{})
	release := make(chan struct{})
	refresher := refresherFunc(func(context.Context, string) (string, error) {
		close(started)
		<-release
		return "A2", nil
	})
	e := newEnv(t, a.srv.URL, refresher)
	e.login(t, "A1", "R1")

	errc := make(chan error, 1)
	go func() {
		_, err := e.gw.Do(t.Context(), &Request{Path: "/api/v1/tasks/"})
		errc <- err
	}()

	<-started
	require.NoError(t, e.session.Logout(t.Context()))
	close(release)

	err := <-errc
	require.ErrorIs(t, err, apperrors.ErrUnauthorized, "resend goes without token")

	access, refresh := e.tokens(t)
	require.Empty(t, access, "refreshed token must not resurrect logged out session")
	require.Empty(t, refresh)
	require.False(t, e.session.IsAuthenticated())
	require.Equal(t, []string{"Bearer A1", ""}, a.authorizations())
}

func TestDetail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string detail", `{"detail":"Incorrect username or password"}`, "Incorrect username or password"},
		{"list detail", `{"detail":[{"msg":"a"},{"msg":"b"}]}`, "a; b"},
		{"object detail", `{"detail":{"code":1}}`, `{"code":1}`},
		{"plain text", "Internal Server Error\n", "Internal Server Error"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, detail([]byte(tt.body)))
		})
	}
}

func TestResponse_Decode(t *testing.T) {
	resp := &Response{Body: []byte(`{"id":"u1"}`)}
	var user models.User

	require.NoError(t, resp.Decode(&user))
	require.Equal(t, "u1", user.ID)

	bad := &Response{Body: []byte(`{`)}
	require.Error(t, bad.Decode(&user))

	var syntaxErr *json.SyntaxError
	require.ErrorAs(t, bad.Decode(&user), &syntaxErr)
}
