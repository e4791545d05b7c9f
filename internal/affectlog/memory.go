package affectlog

import (
	"context"
	"sync"

	"github.com/nidhogg/limbic-flow/internal/affect"
)

// MemoryLog keeps snapshots in process. Used by tests and the offline chat mode.
type MemoryLog struct {
	mu     sync.RWMutex
	snaps  []affect.Snapshot
	nextID int64
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{nextID: 1}
}

func (m *MemoryLog) Record(_ context.Context, snap affect.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.ID = m.nextID
	m.nextID++
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *MemoryLog) Recent(_ context.Context, n int) ([]affect.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []affect.Snapshot
	for i := len(m.snaps) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.snaps[i])
	}
	return out, nil
}

func (m *MemoryLog) History(_ context.Context, q Query) ([]affect.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := q.limit()
	var out []affect.Snapshot
	for i := len(m.snaps) - 1; i >= 0 && len(out) < limit; i-- {
		s := m.snaps[i]
		if !q.Since.IsZero() && s.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && s.Timestamp.After(q.Until) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryLog) Latest(_ context.Context) (affect.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.snaps) == 0 {
		return affect.Snapshot{}, false, nil
	}
	return m.snaps[len(m.snaps)-1], true, nil
}

func (m *MemoryLog) Close() error { return nil }
