package jobs

import (
	"context"
	"log/slog"
	"time"

	"botmarket/core/fault"
)

// Refunder returns held escrow to the requester when a job dies unclaimed.
// Implemented by the escrow coordinator; a nil refunder skips refunds.
type Refunder interface {
	RefundIfHeld(ctx context.Context, jobID string) error
}

// Sweeper periodically retires OPEN jobs whose deadline has passed. Failures
// are logged and the loop continues; the sweep is idempotent because Expire
// is a conditional transition.
type Sweeper struct {
	service  *Service
	refunder Refunder
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper constructs an expiry sweeper. A non-positive interval defaults
// to one minute.
func NewSweeper(service *Service, refunder Refunder, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{service: service, refunder: refunder, interval: interval, logger: logger}
}

// Run blocks until the context is cancelled, sweeping on each tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	open, err := s.service.List(ctx, StatusOpen)
	if err != nil {
		s.logger.Error("expiry sweep: list open jobs", "error", err)
		return
	}
	now := s.service.nowFn()
	for _, job := range open {
		if now.Before(job.ExpiresAt) {
			continue
		}
		if _, err := s.service.Expire(ctx, job.ID); err != nil {
			// Lost races surface as state errors and are expected.
			if !fault.Is(err, fault.KindStateError) {
				s.logger.Error("expiry sweep: expire job", "jobId", job.ID, "error", err)
			}
			continue
		}
		s.logger.Info("job expired", "jobId", job.ID)
		if s.refunder == nil {
			continue
		}
		if err := s.refunder.RefundIfHeld(ctx, job.ID); err != nil {
			s.logger.Error("expiry sweep: refund escrow", "jobId", job.ID, "error", err)
		}
	}
}
