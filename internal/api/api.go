// Package api wraps the monitoring REST API endpoints.
//
// Every call except token refresh goes through the gateway, so authentication
// and token refresh are handled there.
package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nkiryanov/agentmon/internal/gateway"
)

const prefix = "/api/v1"

// Doer sends requests, implemented by *gateway.Gateway
type Doer interface {
	Do(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
}

// Client groups all API wrappers over one gateway
type Client struct {
	Auth      *AuthAPI
	Projects  *ProjectAPI
	Tasks     *TaskAPI
	Analytics *AnalyticsAPI
}

func NewClient(d Doer) *Client {
	return &Client{
		Auth:      &AuthAPI{doer: d},
		Projects:  &ProjectAPI{doer: d},
		Tasks:     &TaskAPI{doer: d},
		Analytics: &AnalyticsAPI{doer: d},
	}
}

// call sends request and decodes JSON answer into T
func call[T any](ctx context.Context, d Doer, req *gateway.Request) (T, error) {
	var value T

	resp, err := d.Do(ctx, req)
	if err != nil {
		return value, err
	}

	if err := resp.Decode(&value); err != nil {
		return value, err
	}
	return value, nil
}

// exec sends request and ignores the answer body
func exec(ctx context.Context, d Doer, req *gateway.Request) error {
	_, err := d.Do(ctx, req)
	return err
}

func daysQuery(days int, def int) url.Values {
	if days <= 0 {
		days = def
	}
	return url.Values{"days": {strconv.Itoa(days)}}
}

func get(path string, query url.Values) *gateway.Request {
	return &gateway.Request{Method: http.MethodGet, Path: prefix + path, Query: query}
}

func withBody(method string, path string, body any) *gateway.Request {
	return &gateway.Request{Method: method, Path: prefix + path, Body: body}
}
