package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

// WorkerService covers the worker-facing operations: claiming, lease upkeep
// and terminal reporting.
type WorkerService struct {
	Jobs   domain.JobStore
	Blobs  domain.BlobStore
	Policy domain.RetryPolicy
}

// NewWorkerService constructs a WorkerService.
func NewWorkerService(jobs domain.JobStore, blobs domain.BlobStore, policy domain.RetryPolicy) *WorkerService {
	return &WorkerService{Jobs: jobs, Blobs: blobs, Policy: policy}
}

// Claim sweeps stale jobs and hands the oldest queued job to caller. When the
// queue is empty it returns ok=false with the queue-empty outcome; workers
// back off and poll again.
func (s *WorkerService) Claim(ctx domain.Context, caller domain.Key) (domain.Job, *domain.Lease, domain.OutcomeCode, error) {
	if err := requireWorkerRole("job.claim", caller); err != nil {
		return domain.Job{}, nil, "", err
	}
	j, ok, err := s.Jobs.Claim(ctx, caller.ID)
	if err != nil {
		return domain.Job{}, nil, "", err
	}
	if !ok {
		return domain.Job{}, nil, domain.OutcomeQueueEmpty, nil
	}
	lease := s.Policy.LeaseFor(time.Now().UTC())
	slog.Info("job claimed",
		slog.String("job_id", j.ID),
		slog.String("worker_key_id", caller.ID),
		slog.Int("attempt", j.PreviousAttempts),
		slog.Time("lease_deadline", lease.Deadline))
	return j, &lease, "", nil
}

// Sweep reclassifies stale processing and error jobs outside of any claim.
// The periodic sweeper calls this; claims run the same sweep inline.
func (s *WorkerService) Sweep(ctx domain.Context) (requeued, failed int64, err error) {
	requeued, failed, err = s.Jobs.Sweep(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("op=job.sweep: %w", err)
	}
	if requeued > 0 || failed > 0 {
		slog.Info("sweep reclassified stale jobs",
			slog.Int64("requeued", requeued),
			slog.Int64("failed", failed))
	}
	return requeued, failed, nil
}
