package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// hashProvider derives a deterministic unit vector from token hashes. It needs
// no network and is used offline and in tests.
type hashProvider struct {
	dims int
}

// NewHashProvider returns a deterministic bag-of-words embedder.
func NewHashProvider(dims int) Provider { return &hashProvider{dims: dims} }

func (p *hashProvider) Name() string    { return "hash" }
func (p *hashProvider) Dimensions() int { return p.dims }

func (p *hashProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(in)
	}
	return out, nil
}

func (p *hashProvider) vector(text string) []float32 {
	v := make([]float32, p.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dims))
		if sum&(1<<63) != 0 {
			v[idx] -= 1
		} else {
			v[idx] += 1
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}
