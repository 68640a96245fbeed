package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkiryanov/agentmon/internal/api"
	"github.com/nkiryanov/agentmon/internal/gateway"
	"github.com/nkiryanov/agentmon/internal/logger"
	"github.com/nkiryanov/agentmon/internal/service/auth"
	"github.com/nkiryanov/agentmon/internal/session"
	"github.com/nkiryanov/agentmon/internal/storage"
	"github.com/nkiryanov/agentmon/internal/storage/file"
	"github.com/nkiryanov/agentmon/internal/storage/postgres"
	"github.com/nkiryanov/agentmon/internal/storage/redis"
)

type App struct {
	config *Config
	logger logger.Logger
	out    io.Writer

	storage  storage.Storage
	session  *session.Store
	registry *prometheus.Registry
	client   *api.Client
	auth     *auth.Service
}

func NewApp(ctx context.Context, c *Config, getenv func(string) string, out io.Writer) (*App, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	st, err := openStorage(ctx, c, getenv)
	if err != nil {
		return nil, fmt.Errorf("error while opening %s storage. Err: %w", c.Storage, err)
	}

	sess, err := session.New(ctx, st, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("error while loading session. Err: %w", err)
	}

	// Initialize API client
	registry := prometheus.NewRegistry()
	refresher := api.NewRefresher(c.APIBaseURL, c.RequestTimeout, nil, logger)
	gw, err := gateway.New(
		gateway.Config{BaseURL: c.APIBaseURL, Timeout: c.RequestTimeout},
		sess,
		refresher,
		loginHint(out),
		logger,
		gateway.WithMetrics(gateway.NewMetrics(registry)),
	)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("error while creating gateway. Err: %w", err)
	}
	client := api.NewClient(gw)

	authService, err := auth.NewService(client.Auth, sess, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	return &App{
		config:   c,
		logger:   logger,
		out:      out,
		storage:  st,
		session:  sess,
		registry: registry,
		client:   client,
		auth:     authService,
	}, nil
}

func (a *App) Close() error {
	return a.storage.Close()
}

func openStorage(ctx context.Context, c *Config, getenv func(string) string) (storage.Storage, error) {
	switch c.Storage {
	case storage.BackendMemory:
		return storage.NewMemory(), nil

	case storage.BackendFile:
		path := c.StoragePath
		if path == "" {
			var err error
			if path, err = defaultStoragePath(getenv); err != nil {
				return nil, err
			}
		}
		return file.New(file.Config{Path: path, SecretKey: c.SecretKey})

	case storage.BackendRedis:
		return redis.New(ctx, redis.Config{URL: c.RedisURL, Prefix: "agentmon:" + c.Namespace + ":"})

	case storage.BackendPostgres:
		return postgres.New(ctx, c.DatabaseDSN, c.Namespace)

	default:
		return nil, fmt.Errorf("unknown storage %q", c.Storage)
	}
}

// loginHint tells the user to log in again when session was closed by the gateway
func loginHint(out io.Writer) gateway.Navigator {
	return gateway.NavigatorFunc(func(reason string) {
		fmt.Fprintf(out, "Session ended (%s). Run 'agentmon login' to sign in again.\n", reason)
	})
}

// serveMetrics exposes gateway metrics until context is cancelled
func (a *App) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			a.logger.Error("Metrics server shutdown timeout exceeded, forcing shutdown...")
		}
		a.logger.Debug("Metrics server stopped")
		close(idleConnsClosed)
	}()

	a.logger.Info("Serving metrics", "address", addr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
