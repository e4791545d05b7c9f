package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrPersist marks a Put whose record was kept in memory but not written to disk.
var ErrPersist = errors.New("memory index not persisted")

// Mirror receives every stored record, e.g. a vector database used as a
// secondary index. Mirror failures never fail a Put.
type Mirror interface {
	Upsert(ctx context.Context, rec Record) error
}

// index is the on-disk layout.
type index struct {
	NextID  int64    `json:"next_id"`
	Records []Record `json:"records"`
}

// Store holds the episodic index in memory and rewrites it to a JSON file on
// every Put. Writers are exclusive; readers share the lock.
type Store struct {
	path    string
	records []Record
	byID    map[int64]int
	nextID  int64
	mirror  Mirror
	now     func() time.Time
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewStore creates an empty store persisted at path. An empty path keeps the
// store purely in memory. Call Load to read an existing index.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{
		path:   path,
		byID:   make(map[int64]int),
		now:    time.Now,
		logger: logger,
	}
}

// SetMirror attaches a secondary index.
func (s *Store) SetMirror(m Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = m
}

// SetClock replaces the time source used for defaults and recency.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Load replaces the in-memory index with the file contents. A missing file
// leaves the store empty.
func (s *Store) Load(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("Memory index not found, starting empty", zap.String("path", s.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read memory index: %w", err)
	}

	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("decode memory index %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = idx.Records
	s.byID = make(map[int64]int, len(idx.Records))
	maxID := int64(-1)
	for i, r := range idx.Records {
		s.byID[r.ID] = i
		maxID = max(maxID, r.ID)
	}
	s.nextID = max(idx.NextID, maxID+1)
	s.logger.Info("Memory index loaded",
		zap.String("path", s.path),
		zap.Int("records", len(s.records)),
		zap.Int64("next_id", s.nextID))
	return nil
}

// Put assigns the next id, fills defaults, appends and persists. The returned
// record is always retained in memory; a non-nil error wrapping ErrPersist
// means only the disk write failed.
func (s *Store) Put(ctx context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	rec = rec.Clone()
	rec.ID = s.nextID
	s.nextID++
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	if rec.UserInfo == nil {
		rec.UserInfo = map[string]string{}
	}
	if rec.Vector == nil {
		rec.Vector = []float32{}
	}
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	persistErr := s.persistLocked()
	mirror := s.mirror
	s.mu.Unlock()

	if mirror != nil {
		if err := mirror.Upsert(ctx, rec); err != nil {
			s.logger.Warn("memory mirror upsert failed", zap.Int64("id", rec.ID), zap.Error(err))
		}
	}
	if persistErr != nil {
		s.logger.Warn("memory index not persisted", zap.Int64("id", rec.ID), zap.Error(persistErr))
		return rec, fmt.Errorf("%w: %v", ErrPersist, persistErr)
	}
	return rec, nil
}

// Retrieve ranks every record against query and returns the best limit.
// Ties keep insertion order.
func (s *Store) Retrieve(ctx context.Context, query []float32, limit int) []Scored {
	if limit <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil
	}

	now := s.now()
	scored := make([]Scored, len(s.records))
	for i, r := range s.records {
		scored[i] = Score(query, r.Clone(), now)
	}
	slices.SortStableFunc(scored, func(a, b Scored) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// Get returns a copy of the record with id.
func (s *Store) Get(id int64) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return s.records[i].Clone(), true
}

// All returns copies of every record in insertion order.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// persistLocked rewrites the whole index through a temp file and rename so a
// reader never observes a partial file.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(index{NextID: s.nextID, Records: s.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}
