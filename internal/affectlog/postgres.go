package affectlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nidhogg/limbic-flow/internal/affect"
	"go.uber.org/zap"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS state_log (
	id        BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ      NOT NULL,
	pleasure  DOUBLE PRECISION NOT NULL,
	arousal   DOUBLE PRECISION NOT NULL,
	dominance DOUBLE PRECISION NOT NULL,
	dopamine  DOUBLE PRECISION NOT NULL,
	cortisol  DOUBLE PRECISION NOT NULL,
	context   JSONB
);
CREATE INDEX IF NOT EXISTS idx_state_log_timestamp ON state_log(timestamp);`

// PostgresLog stores snapshots in PostgreSQL through a pgx pool.
type PostgresLog struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLog connects, pings and migrates the state_log table.
func NewPostgresLog(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	l := &PostgresLog{db: pool, logger: logger}
	if err := l.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Affect log opened", zap.String("backend", "postgres"))
	return l, nil
}

// Migrate creates the state_log table if it does not exist.
func (l *PostgresLog) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate state_log: %w", err)
	}
	return nil
}

func (l *PostgresLog) Record(ctx context.Context, snap affect.Snapshot) error {
	ctxJSON, err := encodeContext(snap.Context)
	if err != nil {
		return err
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = timeNow()
	}
	_, err = l.db.Exec(ctx, `
		INSERT INTO state_log (timestamp, pleasure, arousal, dominance, dopamine, cortisol, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ts,
		snap.Affect.Pleasure, snap.Affect.Arousal, snap.Affect.Dominance,
		snap.Neuro.Dopamine, snap.Neuro.Cortisol,
		ctxJSON,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (l *PostgresLog) Recent(ctx context.Context, n int) ([]affect.Snapshot, error) {
	if n <= 0 {
		return nil, nil
	}
	return l.query(ctx, `
		SELECT id, timestamp, pleasure, arousal, dominance, dopamine, cortisol, context
		FROM state_log ORDER BY id DESC LIMIT $1`, n)
}

func (l *PostgresLog) History(ctx context.Context, q Query) ([]affect.Snapshot, error) {
	stmt := `SELECT id, timestamp, pleasure, arousal, dominance, dopamine, cortisol, context
		FROM state_log WHERE 1=1`
	var args []any
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		stmt += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if !q.Until.IsZero() {
		args = append(args, q.Until)
		stmt += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	args = append(args, q.limit())
	stmt += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d", len(args))
	return l.query(ctx, stmt, args...)
}

func (l *PostgresLog) Latest(ctx context.Context) (affect.Snapshot, bool, error) {
	var s affect.Snapshot
	var ctxJSON []byte
	err := l.db.QueryRow(ctx, `
		SELECT id, timestamp, pleasure, arousal, dominance, dopamine, cortisol, context
		FROM state_log ORDER BY id DESC LIMIT 1`,
	).Scan(&s.ID, &s.Timestamp,
		&s.Affect.Pleasure, &s.Affect.Arousal, &s.Affect.Dominance,
		&s.Neuro.Dopamine, &s.Neuro.Cortisol, &ctxJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return affect.Snapshot{}, false, nil
	}
	if err != nil {
		return affect.Snapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	s.Context = decodeContext(ctxJSON)
	return clampSnapshot(s), true, nil
}

// Close shuts down the connection pool.
func (l *PostgresLog) Close() error {
	l.db.Close()
	return nil
}

func (l *PostgresLog) query(ctx context.Context, stmt string, args ...any) ([]affect.Snapshot, error) {
	rows, err := l.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query state_log: %w", err)
	}
	defer rows.Close()

	var out []affect.Snapshot
	for rows.Next() {
		var s affect.Snapshot
		var ctxJSON []byte
		if err := rows.Scan(&s.ID, &s.Timestamp,
			&s.Affect.Pleasure, &s.Affect.Arousal, &s.Affect.Dominance,
			&s.Neuro.Dopamine, &s.Neuro.Cortisol, &ctxJSON); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.Context = decodeContext(ctxJSON)
		out = append(out, clampSnapshot(s))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state_log: %w", err)
	}
	return out, nil
}

var _ Log = (*PostgresLog)(nil)
