package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

// JobRepo persists jobs and their images in PostgreSQL and implements the
// transactional core: skip-locked claiming, the retry sweep, and the SQL
// readiness promotion.
type JobRepo struct {
	Pool   PgxPool
	Policy domain.RetryPolicy
}

// NewJobRepo constructs a JobRepo with the given pool and retry policy.
func NewJobRepo(p PgxPool, policy domain.RetryPolicy) *JobRepo {
	return &JobRepo{Pool: p, Policy: policy}
}

const jobColumns = `id, owner_key_id, worker_key_id, engine_id,
	alto_required, page_required, meta_json_required, meta_json_uploaded,
	state, progress, previous_attempts,
	created, started, last_change, finished, log, log_user, definition`

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var state string
	err := row.Scan(&j.ID, &j.OwnerKeyID, &j.WorkerKeyID, &j.EngineID,
		&j.AltoRequired, &j.PageRequired, &j.MetaJSONRequired, &j.MetaJSONUploaded,
		&state, &j.Progress, &j.PreviousAttempts,
		&j.Created, &j.Started, &j.LastChange, &j.Finished, &j.Log, &j.LogUser, &j.Definition)
	if err != nil {
		return domain.Job{}, err
	}
	j.State = domain.State(state)
	return j, nil
}

// Create inserts a job and its images in one transaction and returns both
// with generated ids and timestamps filled in.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job, images []domain.Image) (domain.Job, []domain.Image, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()

	now := time.Now().UTC()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	j.State = domain.StateNew
	j.Created = now
	j.LastChange = now

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Job{}, nil, fmt.Errorf("op=job.create: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `INSERT INTO jobs (id, owner_key_id, engine_id,
			alto_required, page_required, meta_json_required,
			state, created, last_change, definition)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		j.ID, j.OwnerKeyID, j.EngineID,
		j.AltoRequired, j.PageRequired, j.MetaJSONRequired,
		string(j.State), j.Created, j.LastChange, j.Definition)
	if err != nil {
		return domain.Job{}, nil, fmt.Errorf("op=job.create: %w", err)
	}
	out := make([]domain.Image, 0, len(images))
	for _, img := range images {
		if img.ID == "" {
			img.ID = uuid.New().String()
		}
		img.JobID = j.ID
		_, err = tx.Exec(ctx, `INSERT INTO images (id, job_id, name, ord) VALUES ($1,$2,$3,$4)`,
			img.ID, img.JobID, img.Name, img.Order)
		if err != nil {
			return domain.Job{}, nil, fmt.Errorf("op=job.create_image name=%s: %w", img.Name, err)
		}
		out = append(out, img)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Job{}, nil, fmt.Errorf("op=job.create: %w", err)
	}
	return j, out, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()

	row := r.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// List returns jobs for the given owner, or all jobs when ownerKeyID is empty.
func (r *JobRepo) List(ctx domain.Context, ownerKeyID string) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.List")
	defer span.End()

	q := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created DESC`
	args := []any{}
	if ownerKeyID != "" {
		q = `SELECT ` + jobColumns + ` FROM jobs WHERE owner_key_id=$1 ORDER BY created DESC`
		args = append(args, ownerKeyID)
	}
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const imageColumns = `id, job_id, name, ord, imagehash, image_uploaded, alto_uploaded, page_uploaded`

func scanImage(row rowScanner) (domain.Image, error) {
	var img domain.Image
	err := row.Scan(&img.ID, &img.JobID, &img.Name, &img.Order, &img.ImageHash,
		&img.ImageUploaded, &img.AltoUploaded, &img.PageUploaded)
	return img, err
}

// Images returns the images of a job ordered by their page order.
func (r *JobRepo) Images(ctx domain.Context, jobID string) ([]domain.Image, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+imageColumns+` FROM images WHERE job_id=$1 ORDER BY ord, name`, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=image.list: %w", err)
	}
	defer rows.Close()
	var images []domain.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("op=image.list: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// ImageByName loads one image of a job by its unique name.
func (r *JobRepo) ImageByName(ctx domain.Context, jobID, name string) (domain.Image, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+imageColumns+` FROM images WHERE job_id=$1 AND name=$2`, jobID, name)
	img, err := scanImage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Image{}, fmt.Errorf("op=image.get: %w", domain.ErrNotFound)
		}
		return domain.Image{}, fmt.Errorf("op=image.get: %w", err)
	}
	return img, nil
}

// sweepTx reclassifies stale processing and error jobs inside the caller's
// transaction. The two bulk updates are disjoint on previous_attempts, so
// their order does not affect the outcome.
func (r *JobRepo) sweepTx(ctx domain.Context, tx pgx.Tx) (requeued, failed int64, err error) {
	now := time.Now().UTC()
	stale := r.Policy.StaleThreshold(now)

	tagQ, err := tx.Exec(ctx, `UPDATE jobs
		SET state='queued', worker_key_id=NULL, progress=0, last_change=$1
		WHERE previous_attempts < $3
		  AND (state='error' OR (state='processing' AND last_change < $2))`,
		now, stale, r.Policy.MaxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("op=job.sweep_requeue: %w", err)
	}
	tagF, err := tx.Exec(ctx, `UPDATE jobs
		SET state='failed', finished=$1, last_change=$1, progress=1.0
		WHERE previous_attempts >= $3
		  AND (state='error' OR (state='processing' AND last_change < $2))`,
		now, stale, r.Policy.MaxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("op=job.sweep_fail: %w", err)
	}
	return tagQ.RowsAffected(), tagF.RowsAffected(), nil
}

// Sweep runs the retry sweep in its own transaction. The dispatcher runs the
// same sweep inside every claim; this entry point serves the optional
// periodic sweeper.
func (r *JobRepo) Sweep(ctx domain.Context) (int64, int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Sweep")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("op=job.sweep: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	requeued, failed, err := r.sweepTx(ctx, tx)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("op=job.sweep: %w", err)
	}
	return requeued, failed, nil
}

// Claim sweeps and then claims the oldest queued job for the worker, all in
// one transaction. Skip-locked selection guarantees concurrent claimers see
// distinct rows; ok is false when the queue is empty.
func (r *JobRepo) Claim(ctx domain.Context, workerKeyID string) (domain.Job, bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Claim")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("op=job.claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, _, err := r.sweepTx(ctx, tx); err != nil {
		return domain.Job{}, false, err
	}

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM jobs WHERE state='queued'
		ORDER BY created ASC LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := tx.Commit(ctx); err != nil {
			return domain.Job{}, false, fmt.Errorf("op=job.claim: %w", err)
		}
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("op=job.claim: %w", err)
	}

	now := time.Now().UTC()
	row := tx.QueryRow(ctx, `UPDATE jobs
		SET state='processing', worker_key_id=$2, started=COALESCE(started,$3),
			last_change=$3, previous_attempts=previous_attempts+1
		WHERE id=$1
		RETURNING `+jobColumns, id, workerKeyID, now)
	j, err := scanJob(row)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("op=job.claim: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Job{}, false, fmt.Errorf("op=job.claim: %w", err)
	}
	return j, true, nil
}

// classifyLeaseMiss explains why a lease-scoped conditional update matched no
// row: absent job, job not processing, or a different worker holding it.
func (r *JobRepo) classifyLeaseMiss(ctx domain.Context, jobID, workerKeyID string) error {
	j, err := r.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State != domain.StateProcessing {
		return fmt.Errorf("op=job.lease state=%s: %w", j.State, domain.ErrNotProcessing)
	}
	return fmt.Errorf("op=job.lease: %w", domain.ErrForbidden)
}

// Heartbeat advances last_change for a processing job held by the worker.
func (r *JobRepo) Heartbeat(ctx domain.Context, jobID, workerKeyID string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Heartbeat")
	defer span.End()

	now := time.Now().UTC()
	row := r.Pool.QueryRow(ctx, `UPDATE jobs SET last_change=$3
		WHERE id=$1 AND state='processing' AND worker_key_id=$2
		RETURNING `+jobColumns, jobID, workerKeyID, now)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, r.classifyLeaseMiss(ctx, jobID, workerKeyID)
		}
		return domain.Job{}, fmt.Errorf("op=job.heartbeat: %w", err)
	}
	return j, nil
}

// RecordProgress renews the lease and applies the optional progress value and
// log appends in one conditional update. Log appends insert a newline
// separator unless the existing text already ends in one.
func (r *JobRepo) RecordProgress(ctx domain.Context, jobID, workerKeyID string, u domain.ProgressUpdate) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.RecordProgress")
	defer span.End()

	now := time.Now().UTC()
	var progress *float64
	if u.Progress != nil {
		p := domain.ClampProgress(*u.Progress)
		progress = &p
	}
	row := r.Pool.QueryRow(ctx, `UPDATE jobs SET
			last_change=$3,
			progress = COALESCE($4, progress),
			log = CASE WHEN $5 = '' THEN log
				ELSE log || CASE WHEN log = '' OR right(log, 1) = E'\n' THEN '' ELSE E'\n' END || $5 END,
			log_user = CASE WHEN $6 = '' THEN log_user
				ELSE log_user || CASE WHEN log_user = '' OR right(log_user, 1) = E'\n' THEN '' ELSE E'\n' END || $6 END
		WHERE id=$1 AND state='processing' AND worker_key_id=$2
		RETURNING `+jobColumns, jobID, workerKeyID, now, progress, u.Log, u.LogUser)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, r.classifyLeaseMiss(ctx, jobID, workerKeyID)
		}
		return domain.Job{}, fmt.Errorf("op=job.progress: %w", err)
	}
	return j, nil
}

// Release returns a processing job to the queue, clearing the worker. The
// attempt already consumed stays consumed.
func (r *JobRepo) Release(ctx domain.Context, jobID, workerKeyID string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Release")
	defer span.End()

	now := time.Now().UTC()
	row := r.Pool.QueryRow(ctx, `UPDATE jobs SET state='queued', worker_key_id=NULL, last_change=$3
		WHERE id=$1 AND state='processing' AND worker_key_id=$2
		RETURNING `+jobColumns, jobID, workerKeyID, now)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, r.classifyLeaseMiss(ctx, jobID, workerKeyID)
		}
		return domain.Job{}, fmt.Errorf("op=job.release: %w", err)
	}
	return j, nil
}

// Complete moves a processing job held by the worker to done, forcing
// progress to 1.0 and stamping finished.
func (r *JobRepo) Complete(ctx domain.Context, jobID, workerKeyID string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Complete")
	defer span.End()

	now := time.Now().UTC()
	row := r.Pool.QueryRow(ctx, `UPDATE jobs SET state='done', finished=$3, last_change=$3, progress=1.0
		WHERE id=$1 AND state='processing' AND worker_key_id=$2
		RETURNING `+jobColumns, jobID, workerKeyID, now)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, r.classifyLeaseMiss(ctx, jobID, workerKeyID)
		}
		return domain.Job{}, fmt.Errorf("op=job.complete: %w", err)
	}
	return j, nil
}

// MarkError moves a processing job held by the worker to error, appending the
// worker-supplied message to the technical log. Progress is preserved.
func (r *JobRepo) MarkError(ctx domain.Context, jobID, workerKeyID, message string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.MarkError")
	defer span.End()

	now := time.Now().UTC()
	row := r.Pool.QueryRow(ctx, `UPDATE jobs SET state='error', last_change=$3,
			log = CASE WHEN $4 = '' THEN log
				ELSE log || CASE WHEN log = '' OR right(log, 1) = E'\n' THEN '' ELSE E'\n' END || $4 END
		WHERE id=$1 AND state='processing' AND worker_key_id=$2
		RETURNING `+jobColumns, jobID, workerKeyID, now, message)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, r.classifyLeaseMiss(ctx, jobID, workerKeyID)
		}
		return domain.Job{}, fmt.Errorf("op=job.mark_error: %w", err)
	}
	return j, nil
}

// Cancel moves a job to cancelled from any non-terminal state. Progress is
// preserved; the worker reference is cleared since cancelled jobs carry no
// lease.
func (r *JobRepo) Cancel(ctx domain.Context, jobID string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Cancel")
	defer span.End()

	now := time.Now().UTC()
	row := r.Pool.QueryRow(ctx, `UPDATE jobs SET state='cancelled', worker_key_id=NULL, finished=$2, last_change=$2
		WHERE id=$1 AND state IN ('new','queued','processing','error')
		RETURNING `+jobColumns, jobID, now)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			cur, gerr := r.Get(ctx, jobID)
			if gerr != nil {
				return domain.Job{}, gerr
			}
			return cur, fmt.Errorf("op=job.cancel state=%s: %w", cur.State, domain.ErrUncancellable)
		}
		return domain.Job{}, fmt.Errorf("op=job.cancel: %w", err)
	}
	return j, nil
}

// SetImageArtifact records an upload on an image row, setting the matching
// flag and, for the image body, its content hash.
func (r *JobRepo) SetImageArtifact(ctx domain.Context, jobID, imageID string, kind domain.ArtifactKind, imageHash *string) error {
	var q string
	args := []any{jobID, imageID}
	switch kind {
	case domain.ArtifactImage:
		q = `UPDATE images SET image_uploaded=TRUE, imagehash=$3 WHERE job_id=$1 AND id=$2`
		args = append(args, imageHash)
	case domain.ArtifactAlto:
		q = `UPDATE images SET alto_uploaded=TRUE WHERE job_id=$1 AND id=$2`
	case domain.ArtifactPage:
		q = `UPDATE images SET page_uploaded=TRUE WHERE job_id=$1 AND id=$2`
	default:
		return fmt.Errorf("op=image.set_artifact kind=%s: %w", kind, domain.ErrInvalidArgument)
	}
	tag, err := r.Pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("op=image.set_artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=image.set_artifact: %w", domain.ErrNotFound)
	}
	return nil
}

// SetMetaUploaded flags the job-level metadata as uploaded.
func (r *JobRepo) SetMetaUploaded(ctx domain.Context, jobID string) error {
	tag, err := r.Pool.Exec(ctx, `UPDATE jobs SET meta_json_uploaded=TRUE WHERE id=$1`, jobID)
	if err != nil {
		return fmt.Errorf("op=job.set_meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.set_meta: %w", domain.ErrNotFound)
	}
	return nil
}

// PromoteIfReady runs the readiness predicate as one conditional update so
// that interleaved uploads cannot observe partial readiness. The promotion
// leaves started null and resets progress.
func (r *JobRepo) PromoteIfReady(ctx domain.Context, jobID string) (bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.PromoteIfReady")
	defer span.End()

	now := time.Now().UTC()
	tag, err := r.Pool.Exec(ctx, `UPDATE jobs j SET state='queued', last_change=$2, progress=0
		WHERE j.id=$1 AND j.state='new'
		  AND (NOT j.meta_json_required OR j.meta_json_uploaded)
		  AND NOT EXISTS (
			SELECT 1 FROM images i WHERE i.job_id=j.id AND (
				NOT i.image_uploaded
				OR (j.alto_required AND NOT i.alto_uploaded)
				OR (j.page_required AND NOT i.page_uploaded)))`,
		jobID, now)
	if err != nil {
		return false, fmt.Errorf("op=job.promote: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
