// Package usecase implements the broker's application services on top of the
// domain ports. Access control lives here; state transitions live in the
// store so they stay atomic.
package usecase

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// JobService covers the owner-facing job operations.
type JobService struct {
	Jobs    domain.JobStore
	Engines domain.EngineStore
}

// NewJobService constructs a JobService.
func NewJobService(jobs domain.JobStore, engines domain.EngineStore) *JobService {
	return &JobService{Jobs: jobs, Engines: engines}
}

// CreateJobImage declares one input page of a new job.
type CreateJobImage struct {
	Name  string `json:"name" validate:"required,max=255"`
	Order int    `json:"order" validate:"gte=0"`
}

// CreateJobInput is the job creation request. The raw input is persisted as
// the job definition for auditing.
type CreateJobInput struct {
	EngineID         *string          `json:"engine_id,omitempty" validate:"omitempty,uuid"`
	AltoRequired     bool             `json:"alto_required"`
	PageRequired     bool             `json:"page_required"`
	MetaJSONRequired bool             `json:"meta_json_required"`
	Images           []CreateJobImage `json:"images" validate:"required,min=1,dive"`
}

// Create registers a new job in state new together with its declared images.
func (s *JobService) Create(ctx domain.Context, caller domain.Key, in CreateJobInput) (domain.Job, []domain.Image, error) {
	if caller.Role != domain.RoleUser && caller.Role != domain.RoleAdmin {
		return domain.Job{}, nil, fmt.Errorf("op=job.create key=%s role=%s: %w", caller.ID, caller.Role, domain.ErrForbidden)
	}
	if err := validate.Struct(in); err != nil {
		return domain.Job{}, nil, fmt.Errorf("op=job.create: %v: %w", err, domain.ErrValidation)
	}
	seen := make(map[string]struct{}, len(in.Images))
	for _, img := range in.Images {
		if _, dup := seen[img.Name]; dup {
			return domain.Job{}, nil, fmt.Errorf("op=job.create: duplicate image name %q: %w", img.Name, domain.ErrValidation)
		}
		seen[img.Name] = struct{}{}
	}
	if in.EngineID != nil {
		if _, err := s.Engines.Get(ctx, *in.EngineID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Job{}, nil, fmt.Errorf("op=job.create: unknown engine %s: %w", *in.EngineID, domain.ErrValidation)
			}
			return domain.Job{}, nil, err
		}
	}

	definition, err := json.Marshal(in)
	if err != nil {
		return domain.Job{}, nil, fmt.Errorf("op=job.create: %w", err)
	}
	job := domain.Job{
		OwnerKeyID:       caller.ID,
		EngineID:         in.EngineID,
		AltoRequired:     in.AltoRequired,
		PageRequired:     in.PageRequired,
		MetaJSONRequired: in.MetaJSONRequired,
		Definition:       definition,
	}
	images := make([]domain.Image, len(in.Images))
	for i, img := range in.Images {
		images[i] = domain.Image{Name: img.Name, Order: img.Order}
	}
	return s.Jobs.Create(ctx, job, images)
}

// List returns the jobs visible to caller: admins see all jobs, owners their
// own. Workers do not browse the queue.
func (s *JobService) List(ctx domain.Context, caller domain.Key) ([]domain.Job, error) {
	switch caller.Role {
	case domain.RoleAdmin:
		return s.Jobs.List(ctx, "")
	case domain.RoleUser, domain.RoleReadonly:
		return s.Jobs.List(ctx, caller.ID)
	}
	return nil, fmt.Errorf("op=job.list key=%s role=%s: %w", caller.ID, caller.Role, domain.ErrForbidden)
}

// Get loads one job with its images, subject to visibility rules.
func (s *JobService) Get(ctx domain.Context, caller domain.Key, id string) (domain.Job, []domain.Image, error) {
	j, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return domain.Job{}, nil, err
	}
	if !canReadJob(caller, j) {
		return domain.Job{}, nil, fmt.Errorf("op=job.get job=%s key=%s: %w", id, caller.ID, domain.ErrForbidden)
	}
	images, err := s.Jobs.Images(ctx, id)
	if err != nil {
		return domain.Job{}, nil, err
	}
	return j, images, nil
}

// Cancel moves a non-terminal job to cancelled on behalf of its owner or an
// admin. Any result already uploaded stays on disk but becomes unreachable.
func (s *JobService) Cancel(ctx domain.Context, caller domain.Key, id string) (domain.Job, domain.OutcomeCode, error) {
	j, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return domain.Job{}, "", err
	}
	if err := requireOwnerWrite("job.cancel", caller, j); err != nil {
		return domain.Job{}, "", err
	}
	j, err = s.Jobs.Cancel(ctx, id)
	if err != nil {
		// The store hands back the current row on an uncancellable state so
		// the boundary can report it.
		return j, "", err
	}
	return j, domain.OutcomeCancelled, nil
}
