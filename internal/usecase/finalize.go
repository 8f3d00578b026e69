package usecase

import (
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

// Complete moves a processing job to done. The result archive must already be
// uploaded; completion without a result is a precondition failure. Repeating
// the call on a job the same worker already completed is a no-op.
func (s *WorkerService) Complete(ctx domain.Context, caller domain.Key, jobID string) (domain.Job, domain.OutcomeCode, error) {
	if err := requireWorkerRole("job.complete", caller); err != nil {
		return domain.Job{}, "", err
	}
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, "", err
	}
	if j.State == domain.StateDone {
		if j.WorkerKeyID != nil && *j.WorkerKeyID == caller.ID {
			return j, domain.OutcomeAlreadyCompleted, nil
		}
		return domain.Job{}, "", fmt.Errorf("op=job.complete job=%s key=%s: %w", jobID, caller.ID, domain.ErrForbidden)
	}
	if err := requireHeldLease("job.complete", caller, j); err != nil {
		return domain.Job{}, "", err
	}
	ok, err := s.Blobs.ResultExists(ctx, jobID)
	if err != nil {
		return domain.Job{}, "", err
	}
	if !ok {
		return domain.Job{}, "", fmt.Errorf("op=job.complete job=%s: no result uploaded: %w", jobID, domain.ErrResultMissing)
	}
	j, err = s.Jobs.Complete(ctx, jobID, caller.ID)
	if err != nil {
		return domain.Job{}, "", err
	}
	slog.Info("job completed", slog.String("job_id", j.ID), slog.String("worker_key_id", caller.ID))
	return j, domain.OutcomeCompleted, nil
}

// Fail records a worker verdict that the attempt went wrong. The job moves to
// error and becomes immediately eligible for the retry sweep; the attempt
// budget decides there whether it requeues or fails for good. Repeating the
// call on a job the same worker already errored is a no-op.
func (s *WorkerService) Fail(ctx domain.Context, caller domain.Key, jobID, message string) (domain.Job, domain.OutcomeCode, error) {
	if err := requireWorkerRole("job.fail", caller); err != nil {
		return domain.Job{}, "", err
	}
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, "", err
	}
	if j.State == domain.StateError || j.State == domain.StateFailed {
		if j.WorkerKeyID != nil && *j.WorkerKeyID == caller.ID {
			return j, domain.OutcomeAlreadyFailed, nil
		}
		return domain.Job{}, "", fmt.Errorf("op=job.fail job=%s key=%s: %w", jobID, caller.ID, domain.ErrForbidden)
	}
	if err := requireHeldLease("job.fail", caller, j); err != nil {
		return domain.Job{}, "", err
	}
	j, err = s.Jobs.MarkError(ctx, jobID, caller.ID, message)
	if err != nil {
		return domain.Job{}, "", err
	}
	slog.Info("job errored",
		slog.String("job_id", j.ID),
		slog.String("worker_key_id", caller.ID),
		slog.Int("previous_attempts", j.PreviousAttempts))
	return j, domain.OutcomeFailed, nil
}
