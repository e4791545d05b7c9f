// Package neocortex stores semantic knowledge: keyed facts and
// subject-predicate-object relationships learned across turns.
package neocortex

import (
	"context"
	"sync"
)

// Relationship is one subject-predicate-object triple.
type Relationship struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Filter selects relationships. Empty fields match anything.
type Filter struct {
	Subject   string
	Predicate string
	Object    string
}

func (f Filter) matches(r Relationship) bool {
	return (f.Subject == "" || f.Subject == r.Subject) &&
		(f.Predicate == "" || f.Predicate == r.Predicate) &&
		(f.Object == "" || f.Object == r.Object)
}

// Store is the semantic knowledge contract.
type Store interface {
	StoreKnowledge(ctx context.Context, key, value string) error
	// RetrieveKnowledge returns ok=false for an unknown key.
	RetrieveKnowledge(ctx context.Context, key string) (value string, ok bool, err error)
	StoreRelationship(ctx context.Context, rel Relationship) error
	Relationships(ctx context.Context, f Filter) ([]Relationship, error)
	Close(ctx context.Context) error
}

// MemoryStore keeps knowledge in process.
type MemoryStore struct {
	mu        sync.RWMutex
	knowledge map[string]string
	rels      []Relationship
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{knowledge: make(map[string]string)}
}

func (m *MemoryStore) StoreKnowledge(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.knowledge[key] = value
	return nil
}

func (m *MemoryStore) RetrieveKnowledge(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.knowledge[key]
	return v, ok, nil
}

// StoreRelationship appends the triple unless an identical one exists.
func (m *MemoryStore) StoreRelationship(_ context.Context, rel Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rels {
		if r == rel {
			return nil
		}
	}
	m.rels = append(m.rels, rel)
	return nil
}

func (m *MemoryStore) Relationships(_ context.Context, f Filter) ([]Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Relationship
	for _, r := range m.rels {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) Close(context.Context) error { return nil }
