package postgres_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

// sqlCall records one statement issued against a stub.
type sqlCall struct {
	sql  string
	args []any
}

// rowStub satisfies pgx.Row with a canned scan function.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

func noRows() rowStub {
	return rowStub{scan: func(...any) error { return pgx.ErrNoRows }}
}

func commandTag(s string) pgconn.CommandTag { return pgconn.NewCommandTag(s) }

func commandTags(ss ...string) []pgconn.CommandTag {
	tags := make([]pgconn.CommandTag, len(ss))
	for i, s := range ss {
		tags[i] = commandTag(s)
	}
	return tags
}

// idScan fills a single string destination, as the claim selection does.
func idScan(id string) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = id
		return nil
	}
}

// jobScan fills the destinations of a full job row in column order.
func jobScan(j domain.Job) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = j.ID
		*(dest[1].(*string)) = j.OwnerKeyID
		*(dest[2].(**string)) = j.WorkerKeyID
		*(dest[3].(**string)) = j.EngineID
		*(dest[4].(*bool)) = j.AltoRequired
		*(dest[5].(*bool)) = j.PageRequired
		*(dest[6].(*bool)) = j.MetaJSONRequired
		*(dest[7].(*bool)) = j.MetaJSONUploaded
		*(dest[8].(*string)) = string(j.State)
		*(dest[9].(*float64)) = j.Progress
		*(dest[10].(*int)) = j.PreviousAttempts
		*(dest[11].(*time.Time)) = j.Created
		*(dest[12].(**time.Time)) = j.Started
		*(dest[13].(*time.Time)) = j.LastChange
		*(dest[14].(**time.Time)) = j.Finished
		*(dest[15].(*string)) = j.Log
		*(dest[16].(*string)) = j.LogUser
		*(dest[17].(*[]byte)) = j.Definition
		return nil
	}
}

func jobRow(j domain.Job) rowStub { return rowStub{scan: jobScan(j)} }

// keyScan fills the destinations of a credential row in column order.
func keyScan(k domain.Key) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = k.ID
		*(dest[1].(*string)) = k.Digest
		*(dest[2].(*string)) = k.Label
		*(dest[3].(*string)) = string(k.Role)
		*(dest[4].(*bool)) = k.Active
		*(dest[5].(*time.Time)) = k.Created
		*(dest[6].(**time.Time)) = k.LastUsed
		return nil
	}
}

// rowsStub plays back a fixed sequence of row scans. The pgx.Rows methods the
// repos never touch come from the embedded interface.
type rowsStub struct {
	pgx.Rows
	scans []func(dest ...any) error
	pos   int
	err   error
}

func (r *rowsStub) Next() bool { return r.pos < len(r.scans) }

func (r *rowsStub) Scan(dest ...any) error {
	scan := r.scans[r.pos]
	r.pos++
	return scan(dest...)
}

func (r *rowsStub) Close() {}

func (r *rowsStub) Err() error { return r.err }

// txStub records the statements run inside a transaction and hands out canned
// tags and rows in order. Unused pgx.Tx methods come from the embedded
// interface and panic if reached.
type txStub struct {
	pgx.Tx
	execCalls []sqlCall
	execTags  []pgconn.CommandTag
	execErr   error

	rowCalls []sqlCall
	rowQueue []rowStub

	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *txStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execCalls = append(t.execCalls, sqlCall{sql: sql, args: args})
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	tag := pgconn.NewCommandTag("UPDATE 0")
	if len(t.execTags) > 0 {
		tag = t.execTags[0]
		t.execTags = t.execTags[1:]
	}
	return tag, nil
}

func (t *txStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.rowCalls = append(t.rowCalls, sqlCall{sql: sql, args: args})
	if len(t.rowQueue) == 0 {
		return noRows()
	}
	row := t.rowQueue[0]
	t.rowQueue = t.rowQueue[1:]
	return row
}

func (t *txStub) Commit(context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *txStub) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

// poolStub satisfies postgres.PgxPool, recording calls and handing out canned
// results in order.
type poolStub struct {
	execCalls []sqlCall
	execTag   pgconn.CommandTag
	execErr   error

	rowCalls []sqlCall
	rowQueue []rowStub

	rows     *rowsStub
	queryErr error

	tx       *txStub
	beginErr error
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execCalls = append(p.execCalls, sqlCall{sql: sql, args: args})
	return p.execTag, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.rowCalls = append(p.rowCalls, sqlCall{sql: sql, args: args})
	if len(p.rowQueue) == 0 {
		return noRows()
	}
	row := p.rowQueue[0]
	p.rowQueue = p.rowQueue[1:]
	return row
}

func (p *poolStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.rowCalls = append(p.rowCalls, sqlCall{sql: sql, args: args})
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	return p.rows, nil
}

func (p *poolStub) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	return p.tx, nil
}
