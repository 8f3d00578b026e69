package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

// KeyRepo persists credentials.
type KeyRepo struct{ Pool PgxPool }

// NewKeyRepo constructs a KeyRepo with the given pool.
func NewKeyRepo(p PgxPool) *KeyRepo { return &KeyRepo{Pool: p} }

const keyColumns = `id, digest, label, role, active, created, last_used`

func scanKey(row rowScanner) (domain.Key, error) {
	var k domain.Key
	var role string
	err := row.Scan(&k.ID, &k.Digest, &k.Label, &role, &k.Active, &k.Created, &k.LastUsed)
	if err != nil {
		return domain.Key{}, err
	}
	k.Role = domain.Role(role)
	return k, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts a credential. Duplicate labels or digests surface as a
// conflict error.
func (r *KeyRepo) Create(ctx domain.Context, k domain.Key) (domain.Key, error) {
	tracer := otel.Tracer("repo.keys")
	ctx, span := tracer.Start(ctx, "keys.Create")
	defer span.End()

	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	k.Created = time.Now().UTC()
	_, err := r.Pool.Exec(ctx, `INSERT INTO keys (id, digest, label, role, active, created)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		k.ID, k.Digest, k.Label, string(k.Role), k.Active, k.Created)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Key{}, fmt.Errorf("op=key.create label=%s: %w", k.Label, domain.ErrConflict)
		}
		return domain.Key{}, fmt.Errorf("op=key.create: %w", err)
	}
	return k, nil
}

// Get loads a credential by id.
func (r *KeyRepo) Get(ctx domain.Context, id string) (domain.Key, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM keys WHERE id=$1`, id)
	k, err := scanKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Key{}, fmt.Errorf("op=key.get: %w", domain.ErrNotFound)
		}
		return domain.Key{}, fmt.Errorf("op=key.get: %w", err)
	}
	return k, nil
}

// GetByDigest loads a credential by its HMAC digest. Only the digest is ever
// used for authentication lookups.
func (r *KeyRepo) GetByDigest(ctx domain.Context, digest string) (domain.Key, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM keys WHERE digest=$1`, digest)
	k, err := scanKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Key{}, fmt.Errorf("op=key.get_digest: %w", domain.ErrNotFound)
		}
		return domain.Key{}, fmt.Errorf("op=key.get_digest: %w", err)
	}
	return k, nil
}

// List returns all credentials ordered by creation time.
func (r *KeyRepo) List(ctx domain.Context) ([]domain.Key, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+keyColumns+` FROM keys ORDER BY created`)
	if err != nil {
		return nil, fmt.Errorf("op=key.list: %w", err)
	}
	defer rows.Close()
	var keys []domain.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("op=key.list: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Update changes the label and/or active flag of a credential.
func (r *KeyRepo) Update(ctx domain.Context, id string, label *string, active *bool) (domain.Key, error) {
	row := r.Pool.QueryRow(ctx, `UPDATE keys SET
			label = COALESCE($2, label),
			active = COALESCE($3, active)
		WHERE id=$1
		RETURNING `+keyColumns, id, label, active)
	k, err := scanKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Key{}, fmt.Errorf("op=key.update: %w", domain.ErrNotFound)
		}
		if isUniqueViolation(err) {
			return domain.Key{}, fmt.Errorf("op=key.update: %w", domain.ErrConflict)
		}
		return domain.Key{}, fmt.Errorf("op=key.update: %w", err)
	}
	return k, nil
}

// UpdateDigest replaces the stored digest during key rotation.
func (r *KeyRepo) UpdateDigest(ctx domain.Context, id, digest string) error {
	tag, err := r.Pool.Exec(ctx, `UPDATE keys SET digest=$2 WHERE id=$1`, id, digest)
	if err != nil {
		return fmt.Errorf("op=key.rotate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=key.rotate: %w", domain.ErrNotFound)
	}
	return nil
}

// TouchLastUsed stamps the credential's last use; callers treat failures as
// best-effort.
func (r *KeyRepo) TouchLastUsed(ctx domain.Context, id string) error {
	_, err := r.Pool.Exec(ctx, `UPDATE keys SET last_used=$2 WHERE id=$1`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=key.touch: %w", err)
	}
	return nil
}

// Count returns the number of credentials; used by startup bootstrap.
func (r *KeyRepo) Count(ctx domain.Context) (int64, error) {
	var n int64
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM keys`).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=key.count: %w", err)
	}
	return n, nil
}
