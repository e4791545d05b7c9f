package memory

import (
	"math"
	"time"
)

// Weights of the composite retrieval score.
const (
	SimilarityWeight = 0.7
	ImportanceWeight = 0.3

	recencyWeight   = 0.4
	intensityWeight = 0.3
	identityWeight  = 0.3
	recencyHalfLife = 24 * time.Hour
)

// Cosine returns the cosine similarity of a and b. A zero-norm vector or a
// length mismatch yields 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Importance blends recency, emotional intensity and whether the user
// disclosed anything about themselves. Result is in [0, 1].
func Importance(r Record, now time.Time) float64 {
	age := now.Sub(r.Timestamp)
	if age < 0 {
		age = 0
	}
	recency := math.Exp2(-age.Hours() / recencyHalfLife.Hours())
	identity := 0.0
	if len(r.UserInfo) > 0 {
		identity = 1
	}
	return recencyWeight*recency + intensityWeight*r.Affect.Intensity() + identityWeight*identity
}

// Score is the composite retrieval score of r for query.
func Score(query []float32, r Record, now time.Time) Scored {
	sim := Cosine(query, r.Vector)
	imp := Importance(r, now)
	return Scored{
		Record:     r,
		Similarity: sim,
		Importance: imp,
		Score:      SimilarityWeight*sim + ImportanceWeight*imp,
	}
}
