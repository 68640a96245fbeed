// Package fakeapi is an in-process monitoring API for tests.
//
// It issues real JWT access tokens, can expire them or reject refresh on demand,
// and counts calls per route.
package fakeapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/agentmon/internal/models"
)

// Seeded account
const (
	Username = "admin"
	Password = "admin123"
)

// Routes as registered on the server, use them with Calls, LastQuery and SetFailure
const (
	RouteLogin    = "POST /api/v1/auth/login-json"
	RouteRegister = "POST /api/v1/auth/register"
	RouteRefresh  = "POST /api/v1/auth/refresh"
	RouteMe       = "GET /api/v1/auth/me"
	RouteLogout   = "POST /api/v1/auth/logout"

	RouteProjectList   = "GET /api/v1/projects/{$}"
	RouteProjectCreate = "POST /api/v1/projects/{$}"
	RouteProjectGet    = "GET /api/v1/projects/{id}"
	RouteProjectUpdate = "PUT /api/v1/projects/{id}"
	RouteProjectDelete = "DELETE /api/v1/projects/{id}"
	RouteProjectStats  = "GET /api/v1/projects/{id}/stats"

	RouteTaskList   = "GET /api/v1/tasks/{$}"
	RouteTaskCreate = "POST /api/v1/tasks/{$}"
	RouteTaskGet    = "GET /api/v1/tasks/{id}"
	RouteTaskUpdate = "PUT /api/v1/tasks/{id}"
	RouteTaskDelete = "DELETE /api/v1/tasks/{id}"
	RouteTaskSteps  = "GET /api/v1/tasks/{id}/steps"
	RouteTaskFiles  = "GET /api/v1/tasks/{id}/files"
	RouteTaskLogs   = "GET /api/v1/tasks/{id}/logs"

	RouteDashboard       = "GET /api/v1/analytics/dashboard"
	RouteTaskPerformance = "GET /api/v1/analytics/tasks/performance"
	RouteCosts           = "GET /api/v1/analytics/costs"
	RouteUsageTrends     = "GET /api/v1/analytics/usage-trends"
)

type account struct {
	user     models.User
	password string
}

type Server struct {
	*httptest.Server

	tokens *tokenManager

	mu       sync.Mutex
	accounts map[string]*account // by username
	projects []models.Project
	tasks    []models.Task
	steps    map[uuid.UUID][]models.TaskStep
	files    map[uuid.UUID][]models.FileOperation
	logs     map[uuid.UUID][]map[string]any

	calls        map[string]int
	queries      map[string]url.Values
	failures     map[string]int
	refreshDelay time.Duration
}

// New starts server with one seeded admin account. It is closed on test cleanup
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		tokens:   newTokenManager(),
		accounts: make(map[string]*account),
		steps:    make(map[uuid.UUID][]models.TaskStep),
		files:    make(map[uuid.UUID][]models.FileOperation),
		logs:     make(map[uuid.UUID][]map[string]any),
		calls:    make(map[string]int),
		queries:  make(map[string]url.Values),
		failures: make(map[string]int),
	}
	s.addAccount(models.RegisterRequest{Username: Username, Email: "admin@example.com", Password: Password, FullName: "Admin", Role: models.RoleAdmin})

	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)

	return s
}

func (s *Server) router() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, RouteLogin, s.handleLogin)
	s.handle(mux, RouteRegister, s.handleRegister)
	s.handle(mux, RouteRefresh, s.handleRefresh)
	s.handle(mux, RouteMe, s.withAuth(s.handleMe))
	s.handle(mux, RouteLogout, s.withAuth(s.handleLogout))

	s.handle(mux, RouteProjectList, s.withAuth(s.handleProjectList))
	s.handle(mux, RouteProjectCreate, s.withAuth(s.handleProjectCreate))
	s.handle(mux, RouteProjectGet, s.withAuth(s.handleProjectGet))
	s.handle(mux, RouteProjectUpdate, s.withAuth(s.handleProjectUpdate))
	s.handle(mux, RouteProjectDelete, s.withAuth(s.handleProjectDelete))
	s.handle(mux, RouteProjectStats, s.withAuth(s.handleProjectStats))

	s.handle(mux, RouteTaskList, s.withAuth(s.handleTaskList))
	s.handle(mux, RouteTaskCreate, s.withAuth(s.handleTaskCreate))
	s.handle(mux, RouteTaskGet, s.withAuth(s.handleTaskGet))
	s.handle(mux, RouteTaskUpdate, s.withAuth(s.handleTaskUpdate))
	s.handle(mux, RouteTaskDelete, s.withAuth(s.handleTaskDelete))
	s.handle(mux, RouteTaskSteps, s.withAuth(s.handleTaskSteps))
	s.handle(mux, RouteTaskFiles, s.withAuth(s.handleTaskFiles))
	s.handle(mux, RouteTaskLogs, s.withAuth(s.handleTaskLogs))

	s.handle(mux, RouteDashboard, s.withAuth(s.handleDashboard))
	s.handle(mux, RouteTaskPerformance, s.withAuth(s.handleTaskPerformance))
	s.handle(mux, RouteCosts, s.withAuth(s.handleCosts))
	s.handle(mux, RouteUsageTrends, s.withAuth(s.handleUsageTrends))

	return mux
}

// handle registers handler that counts calls and honours injected failures
func (s *Server) handle(mux *http.ServeMux, route string, h http.HandlerFunc) {
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		s.queries[route] = r.URL.Query()
		status := s.failures[route]
		s.mu.Unlock()

		if status != 0 {
			renderDetail(w, http.StatusText(status), status)
			return
		}
		h(w, r)
	})
}

type ctxKey string

const userKey ctxKey = "user"

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			renderDetail(w, "Could not validate credentials", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	}
}

func (s *Server) authenticate(r *http.Request) (models.User, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return models.User{}, false
	}

	userID, err := s.tokens.parseAccess(token)
	if err != nil {
		return models.User{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.user.ID == userID {
			return a.user, a.user.IsActive
		}
	}
	return models.User{}, false
}

func userFromContext(ctx context.Context) models.User {
	u, _ := ctx.Value(userKey).(models.User)
	return u
}

// Calls returns how many times route was hit
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// LastQuery returns query params of the last request to route
func (s *Server) LastQuery(route string) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[route]
}

// SetFailure makes route answer with status. Zero status removes the failure
func (s *Server) SetFailure(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == 0 {
		delete(s.failures, route)
		return
	}
	s.failures[route] = status
}

// ExpireAccessTokens invalidates every access token issued so far
func (s *Server) ExpireAccessTokens() {
	s.tokens.expireAccess()
}

// RejectRefresh forgets all refresh tokens, so refresh answers 401
func (s *Server) RejectRefresh() {
	s.tokens.revokeRefresh()
}

// SetRefreshDelay slows down refresh endpoint
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// IssueTokens logs in seeded account without hitting the login route
func (s *Server) IssueTokens(t testing.TB) models.TokenPair {
	t.Helper()

	s.mu.Lock()
	userID := s.accounts[Username].user.ID
	s.mu.Unlock()

	access, refresh, err := s.tokens.issuePair(userID)
	if err != nil {
		t.Fatalf("failed to issue tokens: %v", err)
	}
	return models.TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}
}

func (s *Server) addAccount(req models.RegisterRequest) models.User {
	now := models.Timestamp{Time: time.Now().UTC().Truncate(time.Second)}

	role := req.Role
	if role == "" {
		role = models.RoleUser
	}

	a := &account{
		user: models.User{
			ID:        uuid.NewString(),
			Username:  req.Username,
			Email:     req.Email,
			FullName:  req.FullName,
			Role:      role,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		password: req.Password,
	}
	s.accounts[req.Username] = a
	return a.user
}
