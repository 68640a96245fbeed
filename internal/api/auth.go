package api

import (
	"context"
	"net/http"

	"github.com/nkiryanov/agentmon/internal/gateway"
	"github.com/nkiryanov/agentmon/internal/models"
)

type AuthAPI struct {
	doer Doer
}

// Login exchanges credentials for a token pair. It is sent without token: wrong credentials are plain 401
func (a *AuthAPI) Login(ctx context.Context, req models.LoginRequest) (models.TokenPair, error) {
	if err := validateStruct(req); err != nil {
		return models.TokenPair{}, err
	}

	r := withBody(http.MethodPost, "/auth/login-json", req)
	r.Public = true
	return call[models.TokenPair](ctx, a.doer, r)
}

func (a *AuthAPI) Register(ctx context.Context, req models.RegisterRequest) (models.User, error) {
	if err := validateStruct(req); err != nil {
		return models.User{}, err
	}

	r := withBody(http.MethodPost, "/auth/register", req)
	r.Public = true
	return call[models.User](ctx, a.doer, r)
}

// Me fetches identity of the token owner
func (a *AuthAPI) Me(ctx context.Context) (models.User, error) {
	return call[models.User](ctx, a.doer, get("/auth/me", nil))
}

// Logout tells the server the session is over
func (a *AuthAPI) Logout(ctx context.Context) error {
	return exec(ctx, a.doer, &gateway.Request{Method: http.MethodPost, Path: prefix + "/auth/logout"})
}
