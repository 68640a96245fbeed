package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/agentmon/internal/apperrors"
	"github.com/nkiryanov/agentmon/internal/gateway"
	"github.com/nkiryanov/agentmon/internal/logger"
	"github.com/nkiryanov/agentmon/internal/models"
)

// Refresher exchanges refresh token for a new access token.
// It uses its own http client: refresh must never go through the gateway
type Refresher struct {
	BaseURL string

	client  *http.Client
	timeout time.Duration
	logger  logger.Logger
}

func NewRefresher(baseURL string, timeout time.Duration, client *http.Client, l logger.Logger) *Refresher {
	if baseURL == "" {
		baseURL = gateway.DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = gateway.DefaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Refresher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: timeout,
		logger:  l.With("component", "refresher"),
	}
}

func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	payload := models.RefreshRequest{RefreshToken: refreshToken}
	if err := validateStruct(payload); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode refresh request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+prefix+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrTransport, err)
	}
	defer resp.Body.Close() // nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %w", apperrors.ErrTransport, err)
	}

	gwResp := &gateway.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("Refresh rejected", "status_code", resp.StatusCode)
		return "", gateway.NewAPIError(gwResp)
	}

	var refreshed models.RefreshResponse
	if err := gwResp.Decode(&refreshed); err != nil {
		return "", err
	}
	if refreshed.AccessToken == "" {
		return "", fmt.Errorf("refresh response has no access token")
	}

	r.logger.Debug("Access token refreshed")
	return refreshed.AccessToken, nil
}
