// Package domain holds the broker's entities, state machine and ports.
package domain

import (
	"context"
	"errors"
	"io"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrPrecondition      = errors.New("precondition failed")
	ErrValidation        = errors.New("validation failed")
	ErrNotProcessing     = errors.New("job not in processing")
	ErrResultMissing     = errors.New("result missing")
	ErrResultNotReady    = errors.New("result not ready")
	ErrResultGone        = errors.New("result gone")
	ErrUncancellable     = errors.New("job uncancellable")
	ErrUnsupportedMedia  = errors.New("unsupported media type")
	ErrRateLimited       = errors.New("rate limited")
	ErrInternal          = errors.New("internal error")
)

// State is the lifecycle state of a Job.
type State string

const (
	StateNew        State = "new"
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateError      State = "error"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Role classifies a credential.
type Role string

const (
	RoleReadonly Role = "readonly"
	RoleUser     Role = "user"
	RoleWorker   Role = "worker"
	RoleAdmin    Role = "admin"
)

// ValidRole reports whether r is one of the four known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleReadonly, RoleUser, RoleWorker, RoleAdmin:
		return true
	}
	return false
}

// ArtifactKind names the three per-image upload slots.
type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "image"
	ArtifactAlto  ArtifactKind = "alto"
	ArtifactPage  ArtifactKind = "page"
)

// Key is an authentication credential. Digest is the hex HMAC-SHA-256 of the
// plaintext key; the plaintext is never stored.
type Key struct {
	ID       string
	Digest   string
	Label    string
	Role     Role
	Active   bool
	Created  time.Time
	LastUsed *time.Time
}

// Engine is a named, versioned processing configuration selectable per job.
type Engine struct {
	ID          string
	Name        string
	Version     string
	Description string
	Created     time.Time
}

// Image is one input page of a Job.
type Image struct {
	ID            string
	JobID         string
	Name          string
	Order         int
	ImageHash     *string
	ImageUploaded bool
	AltoUploaded  bool
	PageUploaded  bool
}

// Job is the central entity.
//
// Invariants enforced by the store:
//   - new:        started/finished nil, previous_attempts 0, worker nil, progress 0
//   - queued:     worker nil, finished nil
//   - processing: worker and started set, finished nil, previous_attempts >= 1
//   - done/failed/cancelled: finished set; done additionally progress = 1.0
//   - last_change is monotonic non-decreasing
type Job struct {
	ID               string
	OwnerKeyID       string
	WorkerKeyID      *string
	EngineID         *string
	AltoRequired     bool
	PageRequired     bool
	MetaJSONRequired bool
	MetaJSONUploaded bool
	State            State
	Progress         float64
	PreviousAttempts int
	Created          time.Time
	Started          *time.Time
	LastChange       time.Time
	Finished         *time.Time
	Log              string
	LogUser          string
	Definition       []byte
}

// Lease is the temporal claim a worker holds on a processing job, derived
// from (worker_key, last_change).
type Lease struct {
	Deadline   time.Time
	ServerTime time.Time
}

// OutcomeCode discriminates legal outcomes of lifecycle operations. The HTTP
// boundary serializes these verbatim in the response envelope.
type OutcomeCode string

const (
	OutcomeCompleted        OutcomeCode = "JOB_COMPLETED"
	OutcomeAlreadyCompleted OutcomeCode = "JOB_ALREADY_COMPLETED"
	OutcomeFailed           OutcomeCode = "JOB_FAILED"
	OutcomeAlreadyFailed    OutcomeCode = "JOB_ALREADY_FAILED"
	OutcomeCancelled        OutcomeCode = "JOB_CANCELLED"
	OutcomeQueueEmpty       OutcomeCode = "JOB_QUEUE_EMPTY"
	OutcomeLeaseRenewed     OutcomeCode = "JOB_LEASE_RENEWED"
	OutcomeReleased         OutcomeCode = "JOB_RELEASED"
)

// ProgressUpdate carries the optional fields of a worker progress report.
// At least one field must be present.
type ProgressUpdate struct {
	Progress *float64
	Log      string
	LogUser  string
}

// Empty reports whether the update carries no fields.
func (u ProgressUpdate) Empty() bool {
	return u.Progress == nil && u.Log == "" && u.LogUser == ""
}

// JobStore is the persistence port for jobs and their images. All
// state-changing operations are single transactions with row-level locking;
// Claim additionally runs the retry sweep inside the claim transaction.
type JobStore interface {
	Create(ctx context.Context, j Job, images []Image) (Job, []Image, error)
	Get(ctx context.Context, id string) (Job, error)
	// List returns jobs owned by ownerKeyID, or all jobs when ownerKeyID is empty.
	List(ctx context.Context, ownerKeyID string) ([]Job, error)
	Images(ctx context.Context, jobID string) ([]Image, error)
	ImageByName(ctx context.Context, jobID, name string) (Image, error)

	// Claim sweeps stale jobs and then claims the oldest queued job for the
	// worker. ok is false when the queue is empty.
	Claim(ctx context.Context, workerKeyID string) (j Job, ok bool, err error)
	// Sweep reclassifies stale processing and error jobs; returns counts.
	Sweep(ctx context.Context) (requeued, failed int64, err error)

	Heartbeat(ctx context.Context, jobID, workerKeyID string) (Job, error)
	RecordProgress(ctx context.Context, jobID, workerKeyID string, u ProgressUpdate) (Job, error)
	Release(ctx context.Context, jobID, workerKeyID string) (Job, error)
	Complete(ctx context.Context, jobID, workerKeyID string) (Job, error)
	MarkError(ctx context.Context, jobID, workerKeyID, message string) (Job, error)
	Cancel(ctx context.Context, jobID string) (Job, error)

	SetImageArtifact(ctx context.Context, jobID, imageID string, kind ArtifactKind, imageHash *string) error
	SetMetaUploaded(ctx context.Context, jobID string) error
	// PromoteIfReady runs the readiness predicate as a single conditional
	// update NEW -> QUEUED; reports whether the promotion happened.
	PromoteIfReady(ctx context.Context, jobID string) (bool, error)
}

// KeyStore is the persistence port for credentials.
type KeyStore interface {
	Create(ctx context.Context, k Key) (Key, error)
	Get(ctx context.Context, id string) (Key, error)
	GetByDigest(ctx context.Context, digest string) (Key, error)
	List(ctx context.Context) ([]Key, error)
	Update(ctx context.Context, id string, label *string, active *bool) (Key, error)
	UpdateDigest(ctx context.Context, id, digest string) error
	TouchLastUsed(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// EngineStore is the persistence port for engines.
type EngineStore interface {
	Create(ctx context.Context, e Engine) (Engine, error)
	Get(ctx context.Context, id string) (Engine, error)
	List(ctx context.Context) ([]Engine, error)
	Delete(ctx context.Context, id string) error
	UpsertByNameVersion(ctx context.Context, e Engine) (Engine, error)
}

// Context is a type alias to context.Context; adapters and usecases pass the
// standard context through.
type Context = context.Context

// BlobStore is the port for job artifact and result blobs. Writes are atomic
// (temp file plus rename); readers never observe partial files.
type BlobStore interface {
	WriteArtifact(ctx context.Context, jobID, name string, data []byte) error
	WriteResult(ctx context.Context, jobID string, r io.Reader) (int64, error)
	OpenResult(ctx context.Context, jobID string) (io.ReadCloser, int64, error)
	ResultExists(ctx context.Context, jobID string) (bool, error)
}
