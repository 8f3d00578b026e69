package usecase

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func zipBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("out.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("result"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newJob(state domain.State) domain.Job {
	return domain.Job{ID: "j1", OwnerKeyID: userKey.ID, State: state}
}

func TestUploadArtifactRejectsQueuedJob(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Get", mock.Anything, "j1").Return(newJob(domain.StateQueued), nil)
	svc := NewUploadService(jobs, new(mockBlobStore))

	_, _, err := svc.UploadArtifact(context.Background(), userKey, "j1", "p1", domain.ArtifactImage, pngBytes(t))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUploadArtifactOwnerOnly(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Get", mock.Anything, "j1").Return(newJob(domain.StateNew), nil)
	svc := NewUploadService(jobs, new(mockBlobStore))

	stranger := domain.Key{ID: "99999999-9999-9999-9999-999999999999", Role: domain.RoleUser}
	_, _, err := svc.UploadArtifact(context.Background(), stranger, "j1", "p1", domain.ArtifactImage, pngBytes(t))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, _, err = svc.UploadArtifact(context.Background(), readonlyKey, "j1", "p1", domain.ArtifactImage, pngBytes(t))
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestUploadImageHappyPath(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	blobs := new(mockBlobStore)
	jobs.On("Get", mock.Anything, "j1").Return(newJob(domain.StateNew), nil).Once()
	jobs.On("ImageByName", mock.Anything, "j1", "p1").Return(domain.Image{ID: "img-1", JobID: "j1", Name: "p1"}, nil)
	blobs.On("WriteArtifact", mock.Anything, "j1", "img-1.png", mock.Anything).Return(nil)
	jobs.On("SetImageArtifact", mock.Anything, "j1", "img-1", domain.ArtifactImage, mock.MatchedBy(func(h *string) bool {
		return h != nil && len(*h) == 64
	})).Return(nil)
	jobs.On("PromoteIfReady", mock.Anything, "j1").Return(true, nil)
	jobs.On("Get", mock.Anything, "j1").Return(newJob(domain.StateQueued), nil).Once()
	svc := NewUploadService(jobs, blobs)

	job, promoted, err := svc.UploadArtifact(context.Background(), userKey, "j1", "p1", domain.ArtifactImage, pngBytes(t))
	require.NoError(t, err)
	assert.True(t, promoted)
	assert.Equal(t, domain.StateQueued, job.State)
	jobs.AssertExpectations(t)
	blobs.AssertExpectations(t)
}

func TestUploadImageRejectsNonImage(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Get", mock.Anything, "j1").Return(newJob(domain.StateNew), nil)
	jobs.On("ImageByName", mock.Anything, "j1", "p1").Return(domain.Image{ID: "img-1"}, nil)
	svc := NewUploadService(jobs, new(mockBlobStore))

	_, _, err := svc.UploadArtifact(context.Background(), userKey, "j1", "p1", domain.ArtifactImage, []byte("plain text"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedMedia)
}

func TestUploadAltoNotRequested(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Get", mock.Anything, "j1").Return(newJob(domain.StateNew), nil)
	jobs.On("ImageByName", mock.Anything, "j1", "p1").Return(domain.Image{ID: "img-1"}, nil)
	svc := NewUploadService(jobs, new(mockBlobStore))

	_, _, err := svc.UploadArtifact(context.Background(), userKey, "j1", "p1", domain.ArtifactAlto, []byte(`<alto/>`))
	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestUploadAltoMalformedXML(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	j := newJob(domain.StateNew)
	j.AltoRequired = true
	jobs.On("Get", mock.Anything, "j1").Return(j, nil)
	jobs.On("ImageByName", mock.Anything, "j1", "p1").Return(domain.Image{ID: "img-1"}, nil)
	svc := NewUploadService(jobs, new(mockBlobStore))

	_, _, err := svc.UploadArtifact(context.Background(), userKey, "j1", "p1", domain.ArtifactAlto, []byte(`<alto>`))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUploadEmptyPayload(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Get", mock.Anything, "j1").Return(newJob(domain.StateNew), nil)
	svc := NewUploadService(jobs, new(mockBlobStore))

	_, _, err := svc.UploadArtifact(context.Background(), userKey, "j1", "p1", domain.ArtifactImage, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUploadMetadata(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	blobs := new(mockBlobStore)
	j := newJob(domain.StateNew)
	j.MetaJSONRequired = true
	jobs.On("Get", mock.Anything, "j1").Return(j, nil).Once()
	blobs.On("WriteArtifact", mock.Anything, "j1", "meta.json", mock.Anything).Return(nil)
	jobs.On("SetMetaUploaded", mock.Anything, "j1").Return(nil)
	jobs.On("PromoteIfReady", mock.Anything, "j1").Return(false, nil)
	jobs.On("Get", mock.Anything, "j1").Return(j, nil).Once()
	svc := NewUploadService(jobs, blobs)

	_, promoted, err := svc.UploadMetadata(context.Background(), userKey, "j1", []byte(`{"lang":"de"}`))
	require.NoError(t, err)
	assert.False(t, promoted)
	jobs.AssertExpectations(t)
}

func TestUploadMetadataNotRequested(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Get", mock.Anything, "j1").Return(newJob(domain.StateNew), nil)
	svc := NewUploadService(jobs, new(mockBlobStore))

	_, _, err := svc.UploadMetadata(context.Background(), userKey, "j1", []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestUploadMetadataInvalidJSON(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	j := newJob(domain.StateNew)
	j.MetaJSONRequired = true
	jobs.On("Get", mock.Anything, "j1").Return(j, nil)
	svc := NewUploadService(jobs, new(mockBlobStore))

	_, _, err := svc.UploadMetadata(context.Background(), userKey, "j1", []byte(`{broken`))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUploadResult(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	blobs := new(mockBlobStore)
	jobs.On("Get", mock.Anything, "j1").Return(processingJob(workerKey.ID), nil)
	data := zipBytes(t)
	blobs.On("WriteResult", mock.Anything, "j1", mock.Anything).Return(int64(len(data)), nil)
	svc := NewUploadService(jobs, blobs)

	size, err := svc.UploadResult(context.Background(), workerKey, "j1", data)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
}

func TestUploadResultRejectsBadZip(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Get", mock.Anything, "j1").Return(processingJob(workerKey.ID), nil)
	svc := NewUploadService(jobs, new(mockBlobStore))

	_, err := svc.UploadResult(context.Background(), workerKey, "j1", []byte("not a zip"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUploadResultLeaseChecks(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	jobs.On("Get", mock.Anything, "j1").Return(processingJob("other-worker"), nil).Once()
	jobs.On("Get", mock.Anything, "j2").Return(domain.Job{ID: "j2", State: domain.StateQueued}, nil).Once()
	svc := NewUploadService(jobs, new(mockBlobStore))

	_, err := svc.UploadResult(context.Background(), workerKey, "j1", zipBytes(t))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.UploadResult(context.Background(), workerKey, "j2", zipBytes(t))
	assert.ErrorIs(t, err, domain.ErrNotProcessing)
}

func TestFetchResultStates(t *testing.T) {
	t.Parallel()
	jobs := new(mockJobStore)
	blobs := new(mockBlobStore)
	queued := newJob(domain.StateQueued)
	cancelled := newJob(domain.StateCancelled)
	errored := newJob(domain.StateError)
	done := newJob(domain.StateDone)
	jobs.On("Get", mock.Anything, "queued").Return(queued, nil)
	jobs.On("Get", mock.Anything, "cancelled").Return(cancelled, nil)
	jobs.On("Get", mock.Anything, "errored").Return(errored, nil)
	jobs.On("Get", mock.Anything, "done").Return(done, nil)
	blobs.On("OpenResult", mock.Anything, "done").
		Return(io.NopCloser(bytes.NewReader([]byte("zip"))), int64(3), nil)
	svc := NewUploadService(jobs, blobs)
	ctx := context.Background()

	_, _, err := svc.FetchResult(ctx, userKey, "queued")
	assert.ErrorIs(t, err, domain.ErrResultNotReady)

	_, _, err = svc.FetchResult(ctx, userKey, "cancelled")
	assert.ErrorIs(t, err, domain.ErrResultGone)

	_, _, err = svc.FetchResult(ctx, userKey, "errored")
	assert.ErrorIs(t, err, domain.ErrResultGone)

	rc, size, err := svc.FetchResult(ctx, userKey, "done")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	assert.Equal(t, int64(3), size)

	// Readonly owners may download.
	ro := readonlyKey
	ro.ID = userKey.ID
	_, _, err = svc.FetchResult(ctx, ro, "done")
	require.NoError(t, err)
}
