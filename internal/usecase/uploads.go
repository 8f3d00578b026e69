package usecase

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/fairyhunter13/pagebroker/internal/domain"
	"github.com/fairyhunter13/pagebroker/pkg/payloadx"
)

// UploadService handles artifact ingestion, readiness promotion and result
// transfer.
type UploadService struct {
	Jobs  domain.JobStore
	Blobs domain.BlobStore
}

// NewUploadService constructs an UploadService.
func NewUploadService(jobs domain.JobStore, blobs domain.BlobStore) *UploadService {
	return &UploadService{Jobs: jobs, Blobs: blobs}
}

func (s *UploadService) ownerUploadTarget(ctx domain.Context, op string, caller domain.Key, jobID string) (domain.Job, error) {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := requireOwnerWrite(op, caller, j); err != nil {
		return domain.Job{}, err
	}
	if j.State != domain.StateNew {
		return domain.Job{}, fmt.Errorf("op=%s job=%s state=%s: uploads only accepted before queueing: %w", op, jobID, j.State, domain.ErrConflict)
	}
	return j, nil
}

// UploadArtifact stores one input artifact for an image slot, validates it by
// kind and flips the matching uploaded flag. A successful upload re-evaluates
// readiness; the returned bool reports whether the job was promoted to queued.
func (s *UploadService) UploadArtifact(ctx domain.Context, caller domain.Key, jobID, imageName string, kind domain.ArtifactKind, data []byte) (domain.Job, bool, error) {
	op := "upload." + string(kind)
	j, err := s.ownerUploadTarget(ctx, op, caller, jobID)
	if err != nil {
		return domain.Job{}, false, err
	}
	if len(data) == 0 {
		return domain.Job{}, false, fmt.Errorf("op=%s job=%s: empty payload: %w", op, jobID, domain.ErrValidation)
	}
	img, err := s.Jobs.ImageByName(ctx, jobID, imageName)
	if err != nil {
		return domain.Job{}, false, err
	}

	var fileName string
	var hash *string
	switch kind {
	case domain.ArtifactImage:
		mime, ext, derr := payloadx.DetectImage(data)
		if derr != nil {
			return domain.Job{}, false, fmt.Errorf("op=%s job=%s: %v: %w", op, jobID, derr, domain.ErrUnsupportedMedia)
		}
		h := payloadx.SHA256Hex(data)
		hash = &h
		fileName = img.ID + ext
		slog.Debug("image artifact accepted", slog.String("job_id", jobID), slog.String("image", imageName), slog.String("mime", mime))
	case domain.ArtifactAlto:
		if !j.AltoRequired {
			return domain.Job{}, false, fmt.Errorf("op=%s job=%s: alto not requested: %w", op, jobID, domain.ErrPrecondition)
		}
		if verr := payloadx.ValidateXML(data); verr != nil {
			return domain.Job{}, false, fmt.Errorf("op=%s job=%s: %v: %w", op, jobID, verr, domain.ErrValidation)
		}
		fileName = img.ID + ".alto.xml"
	case domain.ArtifactPage:
		if !j.PageRequired {
			return domain.Job{}, false, fmt.Errorf("op=%s job=%s: page not requested: %w", op, jobID, domain.ErrPrecondition)
		}
		if verr := payloadx.ValidateXML(data); verr != nil {
			return domain.Job{}, false, fmt.Errorf("op=%s job=%s: %v: %w", op, jobID, verr, domain.ErrValidation)
		}
		fileName = img.ID + ".page.xml"
	default:
		return domain.Job{}, false, fmt.Errorf("op=upload.artifact job=%s kind=%s: %w", jobID, kind, domain.ErrInvalidArgument)
	}

	if err := s.Blobs.WriteArtifact(ctx, jobID, fileName, data); err != nil {
		return domain.Job{}, false, err
	}
	if err := s.Jobs.SetImageArtifact(ctx, jobID, img.ID, kind, hash); err != nil {
		return domain.Job{}, false, err
	}
	return s.finishUpload(ctx, jobID)
}

// UploadMetadata stores the job-level metadata document. The job must have
// been created with the metadata requirement.
func (s *UploadService) UploadMetadata(ctx domain.Context, caller domain.Key, jobID string, data []byte) (domain.Job, bool, error) {
	j, err := s.ownerUploadTarget(ctx, "upload.metadata", caller, jobID)
	if err != nil {
		return domain.Job{}, false, err
	}
	if !j.MetaJSONRequired {
		return domain.Job{}, false, fmt.Errorf("op=upload.metadata job=%s: metadata not requested: %w", jobID, domain.ErrPrecondition)
	}
	if verr := payloadx.ValidateJSON(data); verr != nil {
		return domain.Job{}, false, fmt.Errorf("op=upload.metadata job=%s: %v: %w", jobID, verr, domain.ErrValidation)
	}
	if err := s.Blobs.WriteArtifact(ctx, jobID, "meta.json", data); err != nil {
		return domain.Job{}, false, err
	}
	if err := s.Jobs.SetMetaUploaded(ctx, jobID); err != nil {
		return domain.Job{}, false, err
	}
	return s.finishUpload(ctx, jobID)
}

func (s *UploadService) finishUpload(ctx domain.Context, jobID string) (domain.Job, bool, error) {
	promoted, err := s.Jobs.PromoteIfReady(ctx, jobID)
	if err != nil {
		return domain.Job{}, false, err
	}
	if promoted {
		slog.Info("job ready, promoted to queue", slog.String("job_id", jobID))
	}
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, false, err
	}
	return j, promoted, nil
}

// UploadResult stores the result archive of a processing job on behalf of the
// worker holding its lease. Re-uploads overwrite; the last archive wins.
func (s *UploadService) UploadResult(ctx domain.Context, caller domain.Key, jobID string, data []byte) (int64, error) {
	if err := requireWorkerRole("upload.result", caller); err != nil {
		return 0, err
	}
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if err := requireHeldLease("upload.result", caller, j); err != nil {
		return 0, err
	}
	if verr := payloadx.ValidateZIP(data); verr != nil {
		return 0, fmt.Errorf("op=upload.result job=%s: %v: %w", jobID, verr, domain.ErrValidation)
	}
	return s.Blobs.WriteResult(ctx, jobID, bytes.NewReader(data))
}

// FetchResult opens the result archive for download. Jobs still travelling
// towards done report the result as not ready; errored, exhausted and
// cancelled jobs report it as gone.
func (s *UploadService) FetchResult(ctx domain.Context, caller domain.Key, jobID string) (io.ReadCloser, int64, error) {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, 0, err
	}
	if !canReadJob(caller, j) {
		return nil, 0, fmt.Errorf("op=result.fetch job=%s key=%s: %w", jobID, caller.ID, domain.ErrForbidden)
	}
	switch j.State {
	case domain.StateDone:
		rc, size, oerr := s.Blobs.OpenResult(ctx, jobID)
		if oerr != nil {
			if errors.Is(oerr, fs.ErrNotExist) {
				return nil, 0, fmt.Errorf("op=result.fetch job=%s: archive missing: %w", jobID, domain.ErrResultGone)
			}
			return nil, 0, oerr
		}
		return rc, size, nil
	case domain.StateError, domain.StateFailed, domain.StateCancelled:
		return nil, 0, fmt.Errorf("op=result.fetch job=%s state=%s: %w", jobID, j.State, domain.ErrResultGone)
	default:
		return nil, 0, fmt.Errorf("op=result.fetch job=%s state=%s: %w", jobID, j.State, domain.ErrResultNotReady)
	}
}
