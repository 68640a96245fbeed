package gateway

import (
	"net/http"
	"time"
)

type debugLogger interface {
	Debug(msg string, args ...any)
}

type loggingTransport struct {
	next   http.RoundTripper
	logger debugLogger
}

// NewLoggingTransport logs every outgoing request at debug level.
// Uses http.DefaultTransport if next is nil
func NewLoggingTransport(next http.RoundTripper, l debugLogger) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &loggingTransport{next: next, logger: l}
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	resp, err := t.next.RoundTrip(r)
	if err != nil {
		t.logger.Debug(
			"HTTP request failed",
			"method", r.Method,
			"uri", r.URL.RequestURI(),
			"request_id", r.Header.Get(RequestIDHeader),
			"duration", time.Since(start),
			"error", err,
		)
		return nil, err
	}

	t.logger.Debug(
		"sent HTTP request",
		"method", r.Method,
		"uri", r.URL.RequestURI(),
		"request_id", r.Header.Get(RequestIDHeader),
		"duration", time.Since(start),
		"status", resp.StatusCode,
	)
	return resp, nil
}
