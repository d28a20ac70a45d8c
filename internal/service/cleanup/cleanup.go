package cleanup

import (
	"context"
	"time"

	"github.com/nkiryanov/schoolagenda/internal/clock"
	"github.com/nkiryanov/schoolagenda/internal/logger"
	"github.com/nkiryanov/schoolagenda/internal/metrics"
)

type ExpiredDeleter interface {
	DeleteAllExpired(ctx context.Context, now time.Time) (int64, error)
}

// Periodically deletes expired refresh tokens
// Pure housekeeping: sessions stay correct without it
type Sweeper struct {
	repo     ExpiredDeleter
	interval time.Duration
	clock    clock.Clock
	logger   logger.Logger
}

func NewSweeper(repo ExpiredDeleter, interval time.Duration, c clock.Clock, l logger.Logger) *Sweeper {
	if c == nil {
		c = clock.RealClock{}
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Sweeper{
		repo:     repo,
		interval: interval,
		clock:    c,
		logger:   l.With("component", "cleanup"),
	}
}

// Sweep once, return number of deleted tokens
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteAllExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		metrics.RefreshTokensCleanupDeleted.Add(float64(deleted))
		s.logger.Info("expired refresh tokens deleted", "deleted", deleted)
	}
	return deleted, nil
}

// Run sweeps every interval until ctx is done
// Does nothing if interval is not positive
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Debug("refresh tokens cleanup disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("refresh tokens cleanup failed", "error", err)
			}
		}
	}
}
