package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

var testPolicy = domain.RetryPolicy{Timeout: 2 * time.Minute, Grace: 30 * time.Second, MaxAttempts: 3}

func TestClaimRequiresWorkerRole(t *testing.T) {
	t.Parallel()
	svc := NewWorkerService(new(mockJobStore), new(mockBlobStore), testPolicy)

	_, _, _, err := svc.Claim(context.Background(), userKey)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestClaimQueueEmpty(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Claim", mock.Anything, workerKey.ID).Return(domain.Job{}, false, nil)
	svc := NewWorkerService(jobs, new(mockBlobStore), testPolicy)

	_, lease, outcome, err := svc.Claim(context.Background(), workerKey)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeQueueEmpty, outcome)
	assert.Nil(t, lease)
}

func TestClaimGrantsLease(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	claimed := domain.Job{ID: "j1", State: domain.StateProcessing, WorkerKeyID: strptr(workerKey.ID), PreviousAttempts: 1}
	jobs.On("Claim", mock.Anything, workerKey.ID).Return(claimed, true, nil)
	svc := NewWorkerService(jobs, new(mockBlobStore), testPolicy)

	before := time.Now()
	job, lease, outcome, err := svc.Claim(context.Background(), workerKey)
	require.NoError(t, err)
	assert.Empty(t, outcome)
	assert.Equal(t, "j1", job.ID)
	require.NotNil(t, lease)
	assert.WithinDuration(t, before.Add(testPolicy.Timeout), lease.Deadline, 2*time.Second)
	jobs.AssertExpectations(t)
}

func TestHeartbeatRenewsLease(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Heartbeat", mock.Anything, "j1", workerKey.ID).
		Return(domain.Job{ID: "j1", State: domain.StateProcessing}, nil)
	svc := NewWorkerService(jobs, new(mockBlobStore), testPolicy)

	_, lease, outcome, err := svc.Heartbeat(context.Background(), workerKey, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeLeaseRenewed, outcome)
	assert.WithinDuration(t, time.Now().Add(testPolicy.Timeout), lease.Deadline, 2*time.Second)
}

func TestHeartbeatLeaseMissPassthrough(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Heartbeat", mock.Anything, "j1", workerKey.ID).
		Return(domain.Job{}, domain.ErrNotProcessing)
	svc := NewWorkerService(jobs, new(mockBlobStore), testPolicy)

	_, _, _, err := svc.Heartbeat(context.Background(), workerKey, "j1")
	assert.ErrorIs(t, err, domain.ErrNotProcessing)
}

func TestProgressRejectsEmptyUpdate(t *testing.T) {
	t.Parallel()
	svc := NewWorkerService(new(mockJobStore), new(mockBlobStore), testPolicy)

	_, _, err := svc.Progress(context.Background(), workerKey, "j1", domain.ProgressUpdate{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestProgressClampsOutOfRange(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		reported float64
		stored   float64
	}{
		{"above one", 1.5, 1.0},
		{"below zero", -0.1, 0.0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			jobs := new(mockJobStore)
			stored := tc.stored
			jobs.On("RecordProgress", mock.Anything, "j1", workerKey.ID, domain.ProgressUpdate{Progress: &stored}).
				Return(domain.Job{ID: "j1", Progress: tc.stored}, nil)
			svc := NewWorkerService(jobs, new(mockBlobStore), testPolicy)

			reported := tc.reported
			job, _, err := svc.Progress(context.Background(), workerKey, "j1", domain.ProgressUpdate{Progress: &reported})
			require.NoError(t, err)
			assert.Equal(t, tc.stored, job.Progress)
			jobs.AssertExpectations(t)
		})
	}
}

func TestProgressRecords(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	half := 0.5
	u := domain.ProgressUpdate{Progress: &half, LogUser: "halfway"}
	jobs.On("RecordProgress", mock.Anything, "j1", workerKey.ID, u).
		Return(domain.Job{ID: "j1", Progress: 0.5}, nil)
	svc := NewWorkerService(jobs, new(mockBlobStore), testPolicy)

	job, lease, err := svc.Progress(context.Background(), workerKey, "j1", u)
	require.NoError(t, err)
	assert.Equal(t, 0.5, job.Progress)
	assert.WithinDuration(t, time.Now().Add(testPolicy.Timeout), lease.Deadline, 2*time.Second)
	jobs.AssertExpectations(t)
}

func TestRelease(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Release", mock.Anything, "j1", workerKey.ID).
		Return(domain.Job{ID: "j1", State: domain.StateQueued}, nil)
	svc := NewWorkerService(jobs, new(mockBlobStore), testPolicy)

	job, outcome, err := svc.Release(context.Background(), workerKey, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReleased, outcome)
	assert.Equal(t, domain.StateQueued, job.State)
}

func TestSweepPassthrough(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Sweep", mock.Anything).Return(int64(2), int64(1), nil)
	svc := NewWorkerService(jobs, new(mockBlobStore), testPolicy)

	requeued, failed, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), requeued)
	assert.Equal(t, int64(1), failed)
}
