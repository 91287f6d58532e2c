// File: internal/jobs/postgres.go
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"

	"github.com/digduck/collector/internal/crawler"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DB is the slice of pgx a PostgresStore needs. *pgxpool.Pool satisfies it in
// production; pgxmock satisfies it in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the production Store. This is the go to for anything
// beyond a one-off CLI run.
type PostgresStore struct {
	db DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema when absent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			principal TEXT NOT NULL,
			site TEXT NOT NULL,
			source_url TEXT NOT NULL,
			status TEXT NOT NULL,
			options JSONB NOT NULL DEFAULT '{}',
			items_found INT NOT NULL DEFAULT 0,
			items_crawled INT NOT NULL DEFAULT 0,
			pages_processed INT NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS job_items (
			job_id TEXT NOT NULL REFERENCES jobs(id),
			item_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (job_id, item_id)
		);
	`)
	return err
}

func (p *PostgresStore) CreateJob(ctx context.Context, job *Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("jobs: failed to marshal job options: %w", err)
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO jobs (id, principal, site, source_url, status, options, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`, job.ID, job.Principal, job.Site, job.SourceURL, string(job.Status), opts, job.CreatedAt)
	return err
}

func (p *PostgresStore) UpdateJob(ctx context.Context, id string, upd JobUpdate) error {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	args = append(args, id)

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.ItemsFound != nil {
		add("items_found", *upd.ItemsFound)
	}
	if upd.ItemsCrawled != nil {
		add("items_crawled", *upd.ItemsCrawled)
	}
	if upd.PagesProcessed != nil {
		add("pages_processed", *upd.PagesProcessed)
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	}
	if upd.StartedAt != nil {
		add("started_at", *upd.StartedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	// A status change is guarded by the transition table in the WHERE
	// clause, mirroring what MemStore enforces in memory. A row in the
	// wrong state matches nothing.
	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $1", strings.Join(sets, ", "))
	if upd.Status != nil {
		query += fmt.Sprintf(" AND status IN (%s)", transitionSources(*upd.Status))
	}

	tag, err := p.db.Exec(ctx, query+";", args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if upd.Status == nil {
			return ErrJobNotFound
		}
		var current string
		qerr := p.db.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1;`, id).Scan(&current)
		if errors.Is(qerr, pgx.ErrNoRows) {
			return ErrJobNotFound
		}
		if qerr != nil {
			return qerr
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, *upd.Status)
	}
	return nil
}

// transitionSources renders the states a job may be in for the target status
// to be a legal transition, as a SQL literal list.
func transitionSources(to Status) string {
	switch to {
	case StatusRunning:
		return "'PENDING'"
	case StatusCompleted:
		return "'RUNNING'"
	default:
		return "'PENDING', 'RUNNING'"
	}
}

// AppendItems inserts the batch inside one transaction. Conflicting item ids
// are ignored so a re-crawled item cannot fail the batch.
func (p *PostgresStore) AppendItems(ctx context.Context, id string, items []crawler.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	now := time.Now()
	for _, it := range items {
		payload, merr := json.Marshal(it)
		if merr != nil {
			return inserted, fmt.Errorf("jobs: failed to marshal item %q: %w", it.ID, merr)
		}
		tag, eerr := tx.Exec(ctx, `
			INSERT INTO job_items (job_id, item_id, payload, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (job_id, item_id) DO NOTHING;
		`, id, it.ID, payload, now)
		if eerr != nil {
			return inserted, eerr
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

// CompleteJob records the terminal state. A job already in a terminal state
// is left untouched: completion races with cancellation and the first
// terminal state wins.
func (p *PostgresStore) CompleteJob(ctx context.Context, id string, success bool, errMsg string) error {
	status := StatusCompleted
	if !success {
		status = StatusFailed
	}

	_, err := p.db.Exec(ctx, `
		UPDATE jobs
		SET status = $2, error_message = $3, completed_at = $4
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING');
	`, id, string(status), errMsg, time.Now())
	return err
}

func (p *PostgresStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var (
		job    Job
		status string
		opts   []byte
	)
	err := p.db.QueryRow(ctx, `
		SELECT id, principal, site, source_url, status, options,
		       items_found, items_crawled, pages_processed, error_message,
		       created_at, started_at, completed_at
		FROM jobs WHERE id = $1;
	`, id).Scan(&job.ID, &job.Principal, &job.Site, &job.SourceURL, &status, &opts,
		&job.ItemsFound, &job.ItemsCrawled, &job.PagesProcessed, &job.ErrorMessage,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	job.Status = Status(status)
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &job.Options); err != nil {
			return nil, fmt.Errorf("jobs: failed to unmarshal job options: %w", err)
		}
	}
	return &job, nil
}

func (p *PostgresStore) HasRunningJob(ctx context.Context, principal string) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE principal = $1 AND status IN ('PENDING', 'RUNNING')
		);
	`, principal).Scan(&exists)
	return exists, err
}
