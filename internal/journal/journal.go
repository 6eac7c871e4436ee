// Package journal records cycle outcomes in Postgres. It never reads them
// back: nothing here survives into the next process's pacing.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"webcam-uploader/internal/cycle"
)

// Execer is the subset of *pgxpool.Pool used by the journal.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS cycle_results (
    cycle_id     UUID PRIMARY KEY,
    started_at   TIMESTAMPTZ NOT NULL,
    duration_ms  BIGINT NOT NULL,
    host         TEXT NOT NULL,
    backend      TEXT NOT NULL,
    status       TEXT NOT NULL,
    stage        TEXT,
    error        TEXT,
    status_code  INTEGER,
    image_bytes  BIGINT,
    next_state   TEXT NOT NULL,
    next_delay_s INTEGER NOT NULL
)`

const insertResult = `
INSERT INTO cycle_results (
    cycle_id, started_at, duration_ms, host, backend,
    status, stage, error, status_code, image_bytes,
    next_state, next_delay_s
)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), NULLIF($9,0), NULLIF($10,0), $11, $12)`

const writeTimeout = 5 * time.Second

type Journal struct {
	db      Execer
	backend string
	logger  logrus.FieldLogger
}

func New(db Execer, backend string, logger logrus.FieldLogger) *Journal {
	return &Journal{db: db, backend: backend, logger: logger}
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse db config: %w", err)
	}
	// PgBouncer in transaction pooling mode rejects prepared statements.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	poolCfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: database ping failed: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the results table when it is missing.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("journal: ensure schema: %w", err)
	}
	return nil
}

// Observe writes one row per outcome, best-effort.
func (j *Journal) Observe(ctx context.Context, out cycle.Outcome) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := j.persistCycleResult(wctx, out); err != nil {
		j.logger.WithField("cycle_id", out.CycleID).Warnf("journal write failed: %v", err)
	}
}

func (j *Journal) persistCycleResult(ctx context.Context, out cycle.Outcome) error {
	status := "OK"
	if !out.OK() {
		status = "FAILED"
	}
	var errText string
	if out.Err != nil {
		errText = out.Err.Error()
	}

	_, err := j.db.Exec(ctx, insertResult,
		out.CycleID,
		out.StartedAt.UTC(),
		out.Duration.Milliseconds(),
		out.Host,
		j.backend,
		status,
		string(out.Stage),
		errText,
		out.StatusCode,
		out.ImageBytes,
		string(out.NextState),
		int(out.NextDelay.Seconds()),
	)
	return err
}
