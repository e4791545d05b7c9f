package pathology

import (
	"math"
	"time"

	"github.com/nidhogg/limbic-flow/internal/cognition"
	"github.com/nidhogg/limbic-flow/internal/memory"
)

const (
	DefaultDepressionSeverity = 0.3
	DefaultAlzheimerSeverity  = 0.5
)

// Depression suppresses happy recall. It applies under elevated cortisol or
// low pleasure and grows more severe as cortisol rises.
type Depression struct {
	BaseSeverity float64
	src          *Source
}

// NewDepression creates the policy.
func NewDepression(base float64, src *Source) *Depression {
	if src == nil {
		src = NewSource(nil)
	}
	return &Depression{BaseSeverity: base, src: src}
}

func (d *Depression) Name() string { return "depression" }

func (d *Depression) ShouldApply(em cognition.Emotion) bool {
	return em.Neuro.Cortisol > 0.4 || em.Affect.Pleasure < -0.2
}

// Severity is base severity plus any cortisol above 0.4, capped at 1.
func (d *Depression) Severity(em cognition.Emotion) float64 {
	boost := math.Max(0, em.Neuro.Cortisol-0.4)
	return math.Min(1, d.BaseSeverity+boost)
}

// DistortQuery shifts every component down by 0.1 * severity.
func (d *Depression) DistortQuery(q []float32, em cognition.Emotion) []float32 {
	if q == nil {
		return nil
	}
	shift := float32(0.1 * d.Severity(em))
	out := make([]float32, len(q))
	for i, v := range q {
		out[i] = v - shift
	}
	return out
}

// DistortMemories drops pleasant records with probability 0.8 * severity and
// dampens the pleasure of every surviving record.
func (d *Depression) DistortMemories(recs []memory.Record, em cognition.Emotion) []memory.Record {
	sev := d.Severity(em)
	out := make([]memory.Record, 0, len(recs))
	for _, r := range recs {
		if r.Affect.Pleasure > 0.2 && d.src.Float64() < 0.8*sev {
			continue
		}
		r.Affect.Pleasure *= 1 - 0.8*sev
		out = append(out, r)
	}
	return out
}

// Alzheimer blurs the query with gaussian noise and loses recent memories.
// It always applies.
type Alzheimer struct {
	Severity float64
	src      *Source
}

// NewAlzheimer creates the policy.
func NewAlzheimer(severity float64, src *Source) *Alzheimer {
	if src == nil {
		src = NewSource(nil)
	}
	return &Alzheimer{Severity: severity, src: src}
}

func (a *Alzheimer) Name() string { return "alzheimer" }

func (a *Alzheimer) ShouldApply(cognition.Emotion) bool { return true }

// DistortQuery adds N(0, (0.2*severity)^2) noise to each component.
func (a *Alzheimer) DistortQuery(q []float32, _ cognition.Emotion) []float32 {
	if q == nil {
		return nil
	}
	sigma := 0.2 * a.Severity
	out := make([]float32, len(q))
	for i, v := range q {
		out[i] = v + float32(a.src.Norm()*sigma)
	}
	return out
}

// DistortMemories drops records under a day old with probability
// 0.8 * severity, under a week old with 0.5 * severity. Older ones survive.
func (a *Alzheimer) DistortMemories(recs []memory.Record, em cognition.Emotion) []memory.Record {
	out := make([]memory.Record, 0, len(recs))
	for _, r := range recs {
		age := em.At.Sub(r.Timestamp)
		switch {
		case age < 24*time.Hour:
			if a.src.Float64() < 0.8*a.Severity {
				continue
			}
		case age < 7*24*time.Hour:
			if a.src.Float64() < 0.5*a.Severity {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
