package usecase

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

// Heartbeat renews caller's lease on a processing job and returns the new
// deadline. The store bumps last_change; the lease is derived from it.
func (s *WorkerService) Heartbeat(ctx domain.Context, caller domain.Key, jobID string) (domain.Job, domain.Lease, domain.OutcomeCode, error) {
	if err := requireWorkerRole("job.heartbeat", caller); err != nil {
		return domain.Job{}, domain.Lease{}, "", err
	}
	j, err := s.Jobs.Heartbeat(ctx, jobID, caller.ID)
	if err != nil {
		return domain.Job{}, domain.Lease{}, "", err
	}
	return j, s.Policy.LeaseFor(time.Now().UTC()), domain.OutcomeLeaseRenewed, nil
}

// Progress records a worker progress report. At least one field must be set;
// a progress value is clamped into [0, 1] rather than rejected. Updating
// progress also renews the lease, so the new deadline comes back with the job.
func (s *WorkerService) Progress(ctx domain.Context, caller domain.Key, jobID string, u domain.ProgressUpdate) (domain.Job, domain.Lease, error) {
	if err := requireWorkerRole("job.progress", caller); err != nil {
		return domain.Job{}, domain.Lease{}, err
	}
	if u.Empty() {
		return domain.Job{}, domain.Lease{}, fmt.Errorf("op=job.progress job=%s: no fields in update: %w", jobID, domain.ErrValidation)
	}
	if u.Progress != nil {
		p := domain.ClampProgress(*u.Progress)
		u.Progress = &p
	}
	j, err := s.Jobs.RecordProgress(ctx, jobID, caller.ID, u)
	if err != nil {
		return domain.Job{}, domain.Lease{}, err
	}
	return j, s.Policy.LeaseFor(time.Now().UTC()), nil
}

// Release returns a processing job to the queue without consuming a verdict.
// The attempt already spent on it stays counted.
func (s *WorkerService) Release(ctx domain.Context, caller domain.Key, jobID string) (domain.Job, domain.OutcomeCode, error) {
	if err := requireWorkerRole("job.release", caller); err != nil {
		return domain.Job{}, "", err
	}
	j, err := s.Jobs.Release(ctx, jobID, caller.ID)
	if err != nil {
		return domain.Job{}, "", err
	}
	return j, domain.OutcomeReleased, nil
}
