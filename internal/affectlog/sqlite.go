package affectlog

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nidhogg/limbic-flow/internal/affect"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS state_log (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp REAL    NOT NULL,
	pleasure  REAL    NOT NULL,
	arousal   REAL    NOT NULL,
	dominance REAL    NOT NULL,
	dopamine  REAL    NOT NULL,
	cortisol  REAL    NOT NULL,
	context   TEXT
);
CREATE INDEX IF NOT EXISTS idx_state_log_timestamp ON state_log(timestamp);`

// SQLiteLog stores snapshots in a local SQLite file. Timestamps are unix seconds.
type SQLiteLog struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteLog opens (creating if needed) the database at path and ensures the schema.
func NewSQLiteLog(path string, logger *zap.Logger) (*SQLiteLog, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create affect log dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init state_log: %w", err)
	}
	logger.Info("Affect log opened", zap.String("backend", "sqlite"), zap.String("path", path))
	return &SQLiteLog{db: db, logger: logger}, nil
}

func (l *SQLiteLog) Record(ctx context.Context, snap affect.Snapshot) error {
	ctxJSON, err := encodeContext(snap.Context)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO state_log (timestamp, pleasure, arousal, dominance, dopamine, cortisol, context)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		toUnix(snap.Timestamp),
		snap.Affect.Pleasure, snap.Affect.Arousal, snap.Affect.Dominance,
		snap.Neuro.Dopamine, snap.Neuro.Cortisol,
		string(ctxJSON),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (l *SQLiteLog) Recent(ctx context.Context, n int) ([]affect.Snapshot, error) {
	if n <= 0 {
		return nil, nil
	}
	return l.query(ctx, `
		SELECT id, timestamp, pleasure, arousal, dominance, dopamine, cortisol, context
		FROM state_log ORDER BY id DESC LIMIT ?`, n)
}

func (l *SQLiteLog) History(ctx context.Context, q Query) ([]affect.Snapshot, error) {
	stmt := `SELECT id, timestamp, pleasure, arousal, dominance, dopamine, cortisol, context
		FROM state_log WHERE 1=1`
	var args []any
	if !q.Since.IsZero() {
		stmt += " AND timestamp >= ?"
		args = append(args, toUnix(q.Since))
	}
	if !q.Until.IsZero() {
		stmt += " AND timestamp <= ?"
		args = append(args, toUnix(q.Until))
	}
	stmt += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, q.limit())
	return l.query(ctx, stmt, args...)
}

func (l *SQLiteLog) Latest(ctx context.Context) (affect.Snapshot, bool, error) {
	snaps, err := l.Recent(ctx, 1)
	if err != nil {
		return affect.Snapshot{}, false, err
	}
	if len(snaps) == 0 {
		return affect.Snapshot{}, false, nil
	}
	return snaps[0], true, nil
}

func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

func (l *SQLiteLog) query(ctx context.Context, stmt string, args ...any) ([]affect.Snapshot, error) {
	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query state_log: %w", err)
	}
	defer rows.Close()

	var out []affect.Snapshot
	for rows.Next() {
		var (
			s      affect.Snapshot
			ts     float64
			ctxRaw sql.NullString
		)
		if err := rows.Scan(&s.ID, &ts,
			&s.Affect.Pleasure, &s.Affect.Arousal, &s.Affect.Dominance,
			&s.Neuro.Dopamine, &s.Neuro.Cortisol, &ctxRaw); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.Timestamp = fromUnix(ts)
		if ctxRaw.Valid {
			s.Context = decodeContext([]byte(ctxRaw.String))
		}
		out = append(out, clampSnapshot(s))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state_log: %w", err)
	}
	return out, nil
}

func toUnix(t time.Time) float64 {
	if t.IsZero() {
		t = timeNow()
	}
	return float64(t.UnixNano()) / 1e9
}

func fromUnix(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// clampSnapshot normalizes rows written by older or foreign writers.
func clampSnapshot(s affect.Snapshot) affect.Snapshot {
	s.Affect = s.Affect.Clamp()
	s.Neuro = s.Neuro.Clamp()
	return s
}

var (
	_ Log = (*SQLiteLog)(nil)
	_ Log = (*MemoryLog)(nil)
)
