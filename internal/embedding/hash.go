package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDimension = 256

// HashProvider embeds text offline by feature hashing unigrams and bigrams of
// runes into a fixed number of buckets. Vectors are L2 normalised and equal
// texts embed identically.
type HashProvider struct {
	dimension int
}

// NewHashProvider returns a hashing provider. Non-positive dims use 256.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = defaultHashDimension
	}
	return &HashProvider{dimension: dim}
}

func (p *HashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *HashProvider) Dimension() int { return p.dimension }

func (p *HashProvider) vector(text string) []float32 {
	vec := make([]float32, p.dimension)
	var runes []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			runes = append(runes, r)
		}
	}
	for i, r := range runes {
		p.add(vec, string(r))
		if i > 0 {
			p.add(vec, string(runes[i-1:i+1]))
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func (p *HashProvider) add(vec []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dimension))
	// The top bit picks the sign so collisions tend to cancel.
	if sum>>63 == 1 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}
