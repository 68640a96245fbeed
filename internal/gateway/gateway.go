// Package gateway sends every API request on behalf of the session.
//
// It attaches the bearer token, and when the API answers 401 it refreshes the
// access token once and resends the request once. If the token can't be
// refreshed the session is expired and the user is sent to login.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nkiryanov/agentmon/internal/apperrors"
	"github.com/nkiryanov/agentmon/internal/logger"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 10 * time.Second

	RequestIDHeader = "X-Request-ID"
)

// Session is the token source the gateway works with
type Session interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	Generation() uint64
	ReplaceAccessToken(ctx context.Context, generation uint64, token string) (bool, error)
	ExpireSession(ctx context.Context, generation uint64, reason string) (bool, error)
}

// Refresher exchanges refresh token for a new access token.
// It must not send requests through the gateway
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Navigator is told to send the user to login when session is over
type Navigator interface {
	RedirectToLogin(reason string)
}

type NavigatorFunc func(reason string)

func (f NavigatorFunc) RedirectToLogin(reason string) {
	f(reason)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Option func(*Gateway)

func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// Request describes one API call. It may be sent twice at most: the second time only after token refresh
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header

	// Encoded as JSON unless it is []byte already
	Body any

	// Public requests are sent without token and 401 is returned as is.
	// Used for login and registration
	Public bool

	retried bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals JSON body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type Gateway struct {
	baseURL *url.URL
	timeout time.Duration

	client    *http.Client
	session   Session
	refresher Refresher
	navigator Navigator
	logger    logger.Logger
	metrics   *Metrics

	flight singleflight.Group
}

func New(cfg Config, session Session, refresher Refresher, navigator Navigator, l logger.Logger, opts ...Option) (*Gateway, error) {
	if session == nil || refresher == nil {
		return nil, errors.New("session and refresher are required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if navigator == nil {
		navigator = NavigatorFunc(func(string) {})
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	g := &Gateway{
		baseURL:   base,
		timeout:   cfg.Timeout,
		session:   session,
		refresher: refresher,
		navigator: navigator,
		logger:    l.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.client == nil {
		g.client = &http.Client{Transport: NewLoggingTransport(nil, g.logger)}
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(nil)
	}

	return g, nil
}

// Do sends request with current access token.
// On 401 the token is refreshed and the request is resent once; the result of the resend is returned as is
func (g *Gateway) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	if req.Public {
		resp, err := g.send(ctx, req, body, "")
		if err != nil {
			return nil, err
		}
		return result(resp)
	}

	generation := g.session.Generation()
	token, err := g.session.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := g.send(ctx, req, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return result(resp)
	}

	if req.retried {
		return nil, NewAPIError(resp)
	}
	req.retried = true

	token, err = g.renewToken(ctx, token, generation)
	if err != nil {
		if errors.Is(err, apperrors.ErrRefreshTokenMissing) {
			return nil, NewAPIError(resp)
		}
		return nil, err
	}

	g.metrics.Retries.Inc()
	g.logger.Debug("Resending request with new token", "method", req.Method, "path", req.Path)

	resp, err = g.send(ctx, req, body, token)
	if err != nil {
		return nil, err
	}
	return result(resp)
}

// renewToken returns token to resend rejected request with
func (g *Gateway) renewToken(ctx context.Context, rejected string, generation uint64) (string, error) {
	// Another request could have refreshed the token already
	stored, err := g.session.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	if stored != "" && stored != rejected {
		return stored, nil
	}

	refreshToken, err := g.session.RefreshToken(ctx)
	if err != nil {
		return "", err
	}
	if refreshToken == "" {
		g.endSession(ctx, generation, apperrors.ErrRefreshTokenMissing.Error())
		return "", apperrors.ErrRefreshTokenMissing
	}

	ch := g.flight.DoChan(refreshToken, func() (any, error) {
		return g.refresh(ctx, refreshToken, rejected)
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", apperrors.ErrTransport, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// refresh runs once for all requests waiting on the same refresh token
func (g *Gateway) refresh(ctx context.Context, refreshToken string, rejected string) (string, error) {
	// The flight outlives the request that started it
	ctx = context.WithoutCancel(ctx)
	generation := g.session.Generation()

	stored, err := g.session.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	if stored != "" && stored != rejected {
		return stored, nil
	}

	refreshCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	token, err := g.refresher.Refresh(refreshCtx, refreshToken)
	if err == nil && token == "" {
		err = errors.New("empty access token")
	}
	if err != nil {
		g.metrics.Refreshes.WithLabelValues(refreshFailed).Inc()
		g.logger.Warn("Token refresh failed", "error", err)
		g.endSession(ctx, generation, "token refresh failed")
		return "", &apperrors.RefreshError{Cause: err}
	}
	g.metrics.Refreshes.WithLabelValues(refreshSucceeded).Inc()

	saved, err := g.session.ReplaceAccessToken(ctx, generation, token)
	if err != nil {
		return "", err
	}
	if !saved {
		// Login or logout happened meanwhile, its tokens win
		return g.session.AccessToken(ctx)
	}

	g.logger.Debug("Access token refreshed")
	return token, nil
}

func (g *Gateway) endSession(ctx context.Context, generation uint64, reason string) {
	expired, err := g.session.ExpireSession(ctx, generation, reason)
	if err != nil {
		g.logger.Error("Failed to expire session", "error", err)
	}
	if !expired {
		return
	}

	g.metrics.ForcedLogouts.Inc()
	g.navigator.RedirectToLogin(reason)
}

func (g *Gateway) send(ctx context.Context, req *Request, body []byte, token string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := g.newHTTPRequest(ctx, req, body, token)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.metrics.ObserveRequest(req.Method, 0, start)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTransport, err)
	}
	defer resp.Body.Close() // nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	g.metrics.ObserveRequest(req.Method, resp.StatusCode, start)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", apperrors.ErrTransport, err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (g *Gateway) newHTTPRequest(ctx context.Context, req *Request, body []byte, token string) (*http.Request, error) {
	u := g.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get(RequestIDHeader) == "" {
		httpReq.Header.Set(RequestIDHeader, uuid.NewString())
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	return httpReq, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, nil
	}
}

func result(resp *Response) (*Response, error) {
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, NewAPIError(resp)
	}
	return resp, nil
}
