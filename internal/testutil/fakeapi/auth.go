package fakeapi

import (
	"net/http"
	"time"

	"github.com/nkiryanov/agentmon/internal/models"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := bind[models.LoginRequest](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	a, found := s.accounts[req.Username]
	s.mu.Unlock()

	if !found || a.password != req.Password {
		w.Header().Set("WWW-Authenticate", "Bearer")
		renderDetail(w, "Incorrect username or password", http.StatusUnauthorized)
		return
	}
	if !a.user.IsActive {
		renderDetail(w, "Inactive user", http.StatusBadRequest)
		return
	}

	access, refresh, err := s.tokens.issuePair(a.user.ID)
	if err != nil {
		renderDetail(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	now := models.Timestamp{Time: time.Now().UTC().Truncate(time.Second)}
	a.user.LastLogin = &now
	s.mu.Unlock()

	renderJSON(w, models.TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := bind[models.RegisterRequest](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[req.Username]; exists {
		renderDetail(w, "Username already registered", http.StatusBadRequest)
		return
	}
	for _, a := range s.accounts {
		if a.user.Email == req.Email {
			renderDetail(w, "Email already registered", http.StatusBadRequest)
			return
		}
	}

	renderJSON(w, s.addAccount(req))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req, ok := bind[models.RefreshRequest](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	delay := s.refreshDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	userID, err := s.tokens.useRefresh(req.RefreshToken)
	if err != nil {
		renderDetail(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	access, err := s.tokens.issueAccess(userID)
	if err != nil {
		renderDetail(w, err.Error(), http.StatusInternalServerError)
		return
	}

	renderJSON(w, models.RefreshResponse{AccessToken: access, TokenType: "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, userFromContext(r.Context()))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, map[string]string{"message": "Successfully logged out"})
}
