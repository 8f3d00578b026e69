package usecase

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

type mockJobStore struct{ mock.Mock }

func (m *mockJobStore) Create(ctx context.Context, j domain.Job, images []domain.Image) (domain.Job, []domain.Image, error) {
	args := m.Called(ctx, j, images)
	var out []domain.Image
	if v := args.Get(1); v != nil {
		out = v.([]domain.Image)
	}
	return args.Get(0).(domain.Job), out, args.Error(2)
}

func (m *mockJobStore) Get(ctx context.Context, id string) (domain.Job, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *mockJobStore) List(ctx context.Context, ownerKeyID string) ([]domain.Job, error) {
	args := m.Called(ctx, ownerKeyID)
	var out []domain.Job
	if v := args.Get(0); v != nil {
		out = v.([]domain.Job)
	}
	return out, args.Error(1)
}

func (m *mockJobStore) Images(ctx context.Context, jobID string) ([]domain.Image, error) {
	args := m.Called(ctx, jobID)
	var out []domain.Image
	if v := args.Get(0); v != nil {
		out = v.([]domain.Image)
	}
	return out, args.Error(1)
}

func (m *mockJobStore) ImageByName(ctx context.Context, jobID, name string) (domain.Image, error) {
	args := m.Called(ctx, jobID, name)
	return args.Get(0).(domain.Image), args.Error(1)
}

func (m *mockJobStore) Claim(ctx context.Context, workerKeyID string) (domain.Job, bool, error) {
	args := m.Called(ctx, workerKeyID)
	return args.Get(0).(domain.Job), args.Bool(1), args.Error(2)
}

func (m *mockJobStore) Sweep(ctx context.Context) (int64, int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *mockJobStore) Heartbeat(ctx context.Context, jobID, workerKeyID string) (domain.Job, error) {
	args := m.Called(ctx, jobID, workerKeyID)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *mockJobStore) RecordProgress(ctx context.Context, jobID, workerKeyID string, u domain.ProgressUpdate) (domain.Job, error) {
	args := m.Called(ctx, jobID, workerKeyID, u)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *mockJobStore) Release(ctx context.Context, jobID, workerKeyID string) (domain.Job, error) {
	args := m.Called(ctx, jobID, workerKeyID)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *mockJobStore) Complete(ctx context.Context, jobID, workerKeyID string) (domain.Job, error) {
	args := m.Called(ctx, jobID, workerKeyID)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *mockJobStore) MarkError(ctx context.Context, jobID, workerKeyID, message string) (domain.Job, error) {
	args := m.Called(ctx, jobID, workerKeyID, message)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *mockJobStore) Cancel(ctx context.Context, jobID string) (domain.Job, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *mockJobStore) SetImageArtifact(ctx context.Context, jobID, imageID string, kind domain.ArtifactKind, imageHash *string) error {
	args := m.Called(ctx, jobID, imageID, kind, imageHash)
	return args.Error(0)
}

func (m *mockJobStore) SetMetaUploaded(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *mockJobStore) PromoteIfReady(ctx context.Context, jobID string) (bool, error) {
	args := m.Called(ctx, jobID)
	return args.Bool(0), args.Error(1)
}

type mockKeyStore struct{ mock.Mock }

func (m *mockKeyStore) Create(ctx context.Context, k domain.Key) (domain.Key, error) {
	args := m.Called(ctx, k)
	return args.Get(0).(domain.Key), args.Error(1)
}

func (m *mockKeyStore) Get(ctx context.Context, id string) (domain.Key, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Key), args.Error(1)
}

func (m *mockKeyStore) GetByDigest(ctx context.Context, digest string) (domain.Key, error) {
	args := m.Called(ctx, digest)
	return args.Get(0).(domain.Key), args.Error(1)
}

func (m *mockKeyStore) List(ctx context.Context) ([]domain.Key, error) {
	args := m.Called(ctx)
	var out []domain.Key
	if v := args.Get(0); v != nil {
		out = v.([]domain.Key)
	}
	return out, args.Error(1)
}

func (m *mockKeyStore) Update(ctx context.Context, id string, label *string, active *bool) (domain.Key, error) {
	args := m.Called(ctx, id, label, active)
	return args.Get(0).(domain.Key), args.Error(1)
}

func (m *mockKeyStore) UpdateDigest(ctx context.Context, id, digest string) error {
	args := m.Called(ctx, id, digest)
	return args.Error(0)
}

func (m *mockKeyStore) TouchLastUsed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockKeyStore) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockEngineStore struct{ mock.Mock }

func (m *mockEngineStore) Create(ctx context.Context, e domain.Engine) (domain.Engine, error) {
	args := m.Called(ctx, e)
	return args.Get(0).(domain.Engine), args.Error(1)
}

func (m *mockEngineStore) Get(ctx context.Context, id string) (domain.Engine, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Engine), args.Error(1)
}

func (m *mockEngineStore) List(ctx context.Context) ([]domain.Engine, error) {
	args := m.Called(ctx)
	var out []domain.Engine
	if v := args.Get(0); v != nil {
		out = v.([]domain.Engine)
	}
	return out, args.Error(1)
}

func (m *mockEngineStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockEngineStore) UpsertByNameVersion(ctx context.Context, e domain.Engine) (domain.Engine, error) {
	args := m.Called(ctx, e)
	return args.Get(0).(domain.Engine), args.Error(1)
}

type mockBlobStore struct{ mock.Mock }

func (m *mockBlobStore) WriteArtifact(ctx context.Context, jobID, name string, data []byte) error {
	args := m.Called(ctx, jobID, name, data)
	return args.Error(0)
}

func (m *mockBlobStore) WriteResult(ctx context.Context, jobID string, r io.Reader) (int64, error) {
	args := m.Called(ctx, jobID, r)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBlobStore) OpenResult(ctx context.Context, jobID string) (io.ReadCloser, int64, error) {
	args := m.Called(ctx, jobID)
	var rc io.ReadCloser
	if v := args.Get(0); v != nil {
		rc = v.(io.ReadCloser)
	}
	return rc, args.Get(1).(int64), args.Error(2)
}

func (m *mockBlobStore) ResultExists(ctx context.Context, jobID string) (bool, error) {
	args := m.Called(ctx, jobID)
	return args.Bool(0), args.Error(1)
}
