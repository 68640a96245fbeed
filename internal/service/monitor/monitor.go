package monitor

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/agentmon/internal/apperrors"
	"github.com/nkiryanov/agentmon/internal/logger"
	"github.com/nkiryanov/agentmon/internal/models"
)

const (
	defaultInterval    = 30 * time.Second // Interval between dashboard refreshes
	defaultRecentTasks = 10               // Number of tasks shown on dashboard
)

type analyticsAPI interface {
	Dashboard(ctx context.Context, days int) (models.Dashboard, error)
}

type taskAPI interface {
	List(ctx context.Context, params models.TaskListParams) ([]models.Task, error)
}

type Config struct {
	// Look back window in days, zero means API default
	Days int

	Interval time.Duration

	RecentTasks int
}

// Snapshot is what dashboard shows at one point in time
type Snapshot struct {
	Dashboard   models.Dashboard
	RecentTasks []models.Task
	FetchedAt   time.Time
}

type Service struct {
	config    Config
	analytics analyticsAPI
	tasks     taskAPI
	logger    logger.Logger
}

func NewService(cfg Config, analytics analyticsAPI, tasks taskAPI, l logger.Logger) (*Service, error) {
	if analytics == nil || tasks == nil {
		return nil, errors.New("analytics and tasks api must not be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RecentTasks <= 0 {
		cfg.RecentTasks = defaultRecentTasks
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		config:    cfg,
		analytics: analytics,
		tasks:     tasks,
		logger:    l.With("component", "monitor"),
	}, nil
}

// Snapshot fetches dashboard and recent tasks concurrently.
// First failure cancels the other request
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d, err := s.analytics.Dashboard(gctx, s.config.Days)
		if err != nil {
			return err
		}
		snap.Dashboard = d
		return nil
	})

	g.Go(func() error {
		tasks, err := s.tasks.List(gctx, models.TaskListParams{Limit: s.config.RecentTasks})
		if err != nil {
			return err
		}
		snap.RecentTasks = tasks
		return nil
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap.FetchedAt = time.Now()
	return snap, nil
}

// Watch takes snapshot right away and then every interval, passing each result to handle.
// It stops on context cancellation or when the session is over.
// Returned channel is closed when watching stopped
func (s *Service) Watch(ctx context.Context, handle func(Snapshot, error)) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting watch", "interval", s.config.Interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			snap, err := s.Snapshot(ctx)
			if ctx.Err() != nil {
				s.logger.Debug("Watch stopped by context")
				return
			}

			handle(snap, err)
			if sessionOver(err) {
				s.logger.Info("Watch stopped, session is over", "error", err)
				return
			}
			if err != nil {
				s.logger.Warn("Failed to fetch snapshot", "error", err)
			}

			select {
			case <-ctx.Done():
				s.logger.Debug("Watch stopped by context")
				return
			case <-ticker.C:
			}
		}
	}()

	return idleStopped
}

func sessionOver(err error) bool {
	return errors.Is(err, apperrors.ErrRefreshFailed) ||
		errors.Is(err, apperrors.ErrUnauthorized) ||
		errors.Is(err, apperrors.ErrRefreshTokenMissing)
}
