package persona

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Manager holds the active persona and can reload it when the file changes.
// A reload that fails to parse keeps the previous persona.
type Manager struct {
	mu      sync.RWMutex
	path    string
	current *Persona
	logger  *zap.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManager loads path. An empty path selects Default; a missing or invalid
// file is an error.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{path: path, logger: logger}
	if path == "" {
		m.current = Default()
		return m, nil
	}
	p, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	m.current = p
	logger.Info("persona loaded", zap.String("path", path), zap.String("name", p.Name))
	return m, nil
}

// Current returns the active persona.
func (m *Manager) Current() *Persona {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reload re-reads the file.
func (m *Manager) Reload() error {
	if m.path == "" {
		return nil
	}
	p, err := LoadFile(m.path)
	if err != nil {
		m.logger.Warn("persona reload failed, keeping previous", zap.String("path", m.path), zap.Error(err))
		return err
	}
	m.mu.Lock()
	m.current = p
	m.mu.Unlock()
	m.logger.Info("persona reloaded", zap.String("path", m.path), zap.String("name", p.Name))
	return nil
}

// Watch reloads the persona whenever its file is written or replaced. The
// parent directory is watched so editors that save by rename are seen. It
// returns once the watcher is installed; events are handled until ctx ends
// or Close is called.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("persona: watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return fmt.Errorf("persona: watch %s: %w", m.path, err)
	}

	m.mu.Lock()
	m.watcher = w
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx, w, m.done)
	return nil
}

func (m *Manager) run(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	target := filepath.Clean(m.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_ = m.Reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Warn("persona watcher error", zap.Error(err))
		}
	}
}

// Close stops watching.
func (m *Manager) Close() error {
	m.mu.Lock()
	w, done := m.watcher, m.done
	m.watcher = nil
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}
