// Package pathology distorts recall. Each policy decides from the current
// mood whether it applies, then perturbs the query vector and filters or
// rewrites the retrieved memories.
package pathology

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"

	"github.com/nidhogg/limbic-flow/internal/cognition"
	"github.com/nidhogg/limbic-flow/internal/memory"
	"github.com/nidhogg/limbic-flow/internal/turn"
	"go.uber.org/zap"
)

// Policy is one recall distortion. Implementations must not mutate their
// inputs; the manager hands them private clones anyway.
type Policy interface {
	Name() string
	ShouldApply(cognition.Emotion) bool
	DistortQuery(q []float32, em cognition.Emotion) []float32
	DistortMemories(recs []memory.Record, em cognition.Emotion) []memory.Record
}

// ErrorPolicy is a Policy whose distortions can fail. The manager calls the
// Try variants when a policy implements them.
type ErrorPolicy interface {
	Policy
	TryDistortQuery(q []float32, em cognition.Emotion) ([]float32, error)
	TryDistortMemories(recs []memory.Record, em cognition.Emotion) ([]memory.Record, error)
}

// Source supplies randomness to policies. Calls are serialized by the manager.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource wraps rng. A nil rng is seeded from the runtime.
func NewSource(rng *rand.Rand) *Source {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Source{rng: rng}
}

// Float64 returns a uniform value in [0, 1).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Norm returns a standard normal value.
func (s *Source) Norm() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.NormFloat64()
}

// Manager runs registered policies in order.
type Manager struct {
	mu       sync.RWMutex
	policies []Policy
	logger   *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register appends a policy. Order of registration is order of application.
func (m *Manager) Register(p Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = append(m.policies, p)
	m.logger.Info("Pathology registered", zap.String("policy", p.Name()))
}

// Policies returns the registered policy names in order.
func (m *Manager) Policies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.policies))
	for i, p := range m.policies {
		names[i] = p.Name()
	}
	return names
}

// DistortQuery perturbs state.QueryVector through every applicable policy.
// A nil vector is left alone.
func (m *Manager) DistortQuery(s *turn.State) {
	if s.QueryVector == nil {
		return
	}
	em := s.Emotion()
	q := slices.Clone(s.QueryVector)
	for _, p := range m.snapshot() {
		if !m.applies(s, p, em) {
			continue
		}
		out, err := m.runQuery(p, q, em)
		if err != nil {
			m.fail(s, p, "distort query", err)
			continue
		}
		q = out
	}
	s.QueryVector = q
}

// Process derives state.DistortedMemories from clones of state.RawMemories.
// RawMemories is never modified.
func (m *Manager) Process(s *turn.State) {
	em := s.Emotion()
	recs := make([]memory.Record, len(s.RawMemories))
	for i, r := range s.RawMemories {
		recs[i] = r.Clone()
	}
	for _, p := range m.snapshot() {
		if !m.applies(s, p, em) {
			continue
		}
		out, err := m.runMemories(p, cloneAll(recs), em)
		if err != nil {
			m.fail(s, p, "distort memories", err)
			continue
		}
		recs = out
	}
	s.DistortedMemories = recs
}

func (m *Manager) snapshot() []Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.policies)
}

func (m *Manager) applies(s *turn.State, p Policy, em cognition.Emotion) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.fail(s, p, "should apply", fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()
	return p.ShouldApply(em)
}

func (m *Manager) runQuery(p Policy, q []float32, em cognition.Emotion) (out []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if ep, ok := p.(ErrorPolicy); ok {
		return ep.TryDistortQuery(q, em)
	}
	return p.DistortQuery(q, em), nil
}

func (m *Manager) runMemories(p Policy, recs []memory.Record, em cognition.Emotion) (out []memory.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if ep, ok := p.(ErrorPolicy); ok {
		return ep.TryDistortMemories(recs, em)
	}
	return p.DistortMemories(recs, em), nil
}

func (m *Manager) fail(s *turn.State, p Policy, op string, err error) {
	m.logger.Warn("pathology policy skipped",
		zap.String("policy", p.Name()),
		zap.String("op", op),
		zap.Error(err))
	s.Warn(fmt.Sprintf("pathology %s: %s: %v", p.Name(), op, err))
}

func cloneAll(recs []memory.Record) []memory.Record {
	out := make([]memory.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

// Factory builds a named policy.
type Factory func(src *Source) Policy

// Registry maps policy names to factories. It is built once at startup and
// injected where policies are constructed from configuration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with depression and alzheimer at their
// default severities.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("depression", func(src *Source) Policy { return NewDepression(DefaultDepressionSeverity, src) })
	r.Register("alzheimer", func(src *Source) Policy { return NewAlzheimer(DefaultAlzheimerSeverity, src) })
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names lists registered policies in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build returns the named policies in order, failing on unknown names.
func (r *Registry) Build(names []string, src *Source) ([]Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Policy, 0, len(names))
	for _, n := range names {
		f, ok := r.factories[n]
		if !ok {
			known := make([]string, 0, len(r.factories))
			for k := range r.factories {
				known = append(known, k)
			}
			sort.Strings(known)
			return nil, fmt.Errorf("unknown pathology %q (known: %v)", n, known)
		}
		out = append(out, f(src))
	}
	return out, nil
}
