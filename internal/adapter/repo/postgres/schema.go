package postgres

import (
	"context"
	"fmt"
)

// schemaDDL is applied idempotently at startup. The broker owns its schema;
// there is no external migration tool.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS keys (
	id UUID PRIMARY KEY,
	digest TEXT NOT NULL UNIQUE,
	label TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created TIMESTAMPTZ NOT NULL,
	last_used TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS engines (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created TIMESTAMPTZ NOT NULL,
	UNIQUE (name, version)
);

CREATE TABLE IF NOT EXISTS jobs (
	id UUID PRIMARY KEY,
	owner_key_id UUID NOT NULL REFERENCES keys(id),
	worker_key_id UUID REFERENCES keys(id),
	engine_id UUID REFERENCES engines(id) ON DELETE SET NULL,
	alto_required BOOLEAN NOT NULL DEFAULT FALSE,
	page_required BOOLEAN NOT NULL DEFAULT FALSE,
	meta_json_required BOOLEAN NOT NULL DEFAULT FALSE,
	meta_json_uploaded BOOLEAN NOT NULL DEFAULT FALSE,
	state TEXT NOT NULL DEFAULT 'new',
	progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	previous_attempts INTEGER NOT NULL DEFAULT 0,
	created TIMESTAMPTZ NOT NULL,
	started TIMESTAMPTZ,
	last_change TIMESTAMPTZ NOT NULL,
	finished TIMESTAMPTZ,
	log TEXT NOT NULL DEFAULT '',
	log_user TEXT NOT NULL DEFAULT '',
	definition JSONB
);

CREATE INDEX IF NOT EXISTS jobs_state_created_idx ON jobs (state, created);
CREATE INDEX IF NOT EXISTS jobs_owner_idx ON jobs (owner_key_id);

CREATE TABLE IF NOT EXISTS images (
	id UUID PRIMARY KEY,
	job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	ord INTEGER NOT NULL DEFAULT 0,
	imagehash TEXT,
	image_uploaded BOOLEAN NOT NULL DEFAULT FALSE,
	alto_uploaded BOOLEAN NOT NULL DEFAULT FALSE,
	page_uploaded BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (job_id, name)
);
`

// EnsureSchema creates the broker tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("op=schema.ensure: %w", err)
	}
	return nil
}
