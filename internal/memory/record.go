// Package memory is the episodic store: one record per completed turn,
// retrieved by a blend of semantic similarity and importance.
package memory

import (
	"maps"
	"slices"
	"time"

	"github.com/nidhogg/limbic-flow/internal/cognition"
)

// Record is one stored turn. Records are not mutated after Put; use Clone
// before handing one to code that edits it.
type Record struct {
	ID            int64             `json:"id"`
	Vector        []float32         `json:"vector"`
	Affect        cognition.Affect  `json:"affect"`
	Timestamp     time.Time         `json:"timestamp"`
	UserUtterance string            `json:"user_utterance"`
	SystemReply   string            `json:"system_reply"`
	UserInfo      map[string]string `json:"user_info"`
	Narrative     string            `json:"narrative"`
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	c := r
	c.Vector = slices.Clone(r.Vector)
	c.UserInfo = maps.Clone(r.UserInfo)
	return c
}

// Scored pairs a record with its retrieval score.
type Scored struct {
	Record     Record  `json:"record"`
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
	Importance float64 `json:"importance"`
}

// Records extracts the records in order.
func Records(scored []Scored) []Record {
	out := make([]Record, len(scored))
	for i, s := range scored {
		out[i] = s.Record
	}
	return out
}
