package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

// EngineRepo persists engine configurations.
type EngineRepo struct{ Pool PgxPool }

// NewEngineRepo constructs an EngineRepo with the given pool.
func NewEngineRepo(p PgxPool) *EngineRepo { return &EngineRepo{Pool: p} }

const engineColumns = `id, name, version, description, created`

func scanEngine(row rowScanner) (domain.Engine, error) {
	var e domain.Engine
	err := row.Scan(&e.ID, &e.Name, &e.Version, &e.Description, &e.Created)
	return e, err
}

// Create inserts an engine; duplicate name+version surfaces as a conflict.
func (r *EngineRepo) Create(ctx domain.Context, e domain.Engine) (domain.Engine, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Created = time.Now().UTC()
	_, err := r.Pool.Exec(ctx, `INSERT INTO engines (id, name, version, description, created)
		VALUES ($1,$2,$3,$4,$5)`, e.ID, e.Name, e.Version, e.Description, e.Created)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Engine{}, fmt.Errorf("op=engine.create name=%s: %w", e.Name, domain.ErrConflict)
		}
		return domain.Engine{}, fmt.Errorf("op=engine.create: %w", err)
	}
	return e, nil
}

// Get loads an engine by id.
func (r *EngineRepo) Get(ctx domain.Context, id string) (domain.Engine, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+engineColumns+` FROM engines WHERE id=$1`, id)
	e, err := scanEngine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Engine{}, fmt.Errorf("op=engine.get: %w", domain.ErrNotFound)
		}
		return domain.Engine{}, fmt.Errorf("op=engine.get: %w", err)
	}
	return e, nil
}

// List returns all engines ordered by name and version.
func (r *EngineRepo) List(ctx domain.Context) ([]domain.Engine, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+engineColumns+` FROM engines ORDER BY name, version`)
	if err != nil {
		return nil, fmt.Errorf("op=engine.list: %w", err)
	}
	defer rows.Close()
	var engines []domain.Engine
	for rows.Next() {
		e, err := scanEngine(rows)
		if err != nil {
			return nil, fmt.Errorf("op=engine.list: %w", err)
		}
		engines = append(engines, e)
	}
	return engines, rows.Err()
}

// Delete removes an engine; jobs referencing it fall back to a null engine.
func (r *EngineRepo) Delete(ctx domain.Context, id string) error {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM engines WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=engine.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=engine.delete: %w", domain.ErrNotFound)
	}
	return nil
}

// UpsertByNameVersion inserts the engine or refreshes its description when
// the name+version pair already exists. Used by catalogue seeding.
func (r *EngineRepo) UpsertByNameVersion(ctx domain.Context, e domain.Engine) (domain.Engine, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Created = time.Now().UTC()
	row := r.Pool.QueryRow(ctx, `INSERT INTO engines (id, name, version, description, created)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (name, version) DO UPDATE SET description = EXCLUDED.description
		RETURNING `+engineColumns, e.ID, e.Name, e.Version, e.Description, e.Created)
	out, err := scanEngine(row)
	if err != nil {
		return domain.Engine{}, fmt.Errorf("op=engine.upsert: %w", err)
	}
	return out, nil
}
