package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/pagebroker/internal/adapter/observability"
	"github.com/fairyhunter13/pagebroker/internal/usecase"
)

// Sweeper runs the retry sweep on a fixed interval. Correctness never depends
// on it: every claim sweeps inline first. The background run only bounds how
// long a stale job can sit unnoticed while no worker is polling.
type Sweeper struct {
	workers  *usecase.WorkerService
	interval time.Duration
}

// NewSweeper constructs a periodic sweeper; a nil service disables it.
func NewSweeper(workers *usecase.WorkerService, interval time.Duration) *Sweeper {
	if workers == nil || interval <= 0 {
		return nil
	}
	return &Sweeper{workers: workers, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "Sweeper.sweepOnce")
	defer span.End()

	requeued, failed, err := s.workers.Sweep(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("periodic sweep failed", slog.Any("error", err))
		return
	}
	span.SetAttributes(
		attribute.Int64("jobs.requeued", requeued),
		attribute.Int64("jobs.failed", failed),
	)
	observability.ObserveSweep(requeued, failed)
}
