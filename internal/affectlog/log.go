// Package affectlog persists the affect curve as an append-only table of
// snapshots. SQLite is the default backend; PostgreSQL and an in-memory log
// share the same contract.
package affectlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/limbic-flow/internal/affect"
	"go.uber.org/zap"
)

var timeNow = time.Now

// Config selects and configures a backend.
type Config struct {
	Backend string `json:"backend"` // sqlite (default), postgres, memory
	Path    string `json:"path"`    // sqlite file
	DSN     string `json:"dsn"`     // postgres connection string
}

// Open builds the configured log.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Log, error) {
	switch cfg.Backend {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "data/affect.db"
		}
		return NewSQLiteLog(path, logger)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("affect log: postgres backend requires dsn")
		}
		return NewPostgresLog(ctx, cfg.DSN, logger)
	case "memory":
		return NewMemoryLog(), nil
	default:
		return nil, fmt.Errorf("affect log: unknown backend %q", cfg.Backend)
	}
}

// Query bounds a history read. Zero times leave that side open.
type Query struct {
	Since time.Time
	Until time.Time
	Limit int
}

// DefaultHistoryLimit applies when Query.Limit is not positive.
const DefaultHistoryLimit = 100

// Log is an affect snapshot log. Every implementation satisfies affect.Recorder.
type Log interface {
	affect.Recorder
	// History returns snapshots inside the query range, newest first.
	History(ctx context.Context, q Query) ([]affect.Snapshot, error)
	// Latest returns the newest snapshot, or ok=false on an empty log.
	Latest(ctx context.Context) (snap affect.Snapshot, ok bool, err error)
	Close() error
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return q.Limit
}

func encodeContext(c map[string]any) ([]byte, error) {
	if len(c) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot context: %w", err)
	}
	return b, nil
}

func decodeContext(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}
