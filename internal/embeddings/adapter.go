package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apperr"
)

// Adapt modes.
const (
	AdaptPadOrTruncate = "pad_or_truncate"
	AdaptTruncate      = "truncate"
	AdaptPad           = "pad"
)

// dimsAdapter coerces a provider's vectors to the index dimensionality.
type dimsAdapter struct {
	base       Provider
	targetDims int
	mode       string
}

// WrapToDims returns a Provider whose vectors all have targetDims entries.
// In "truncate" mode shorter vectors are an error; in "pad" mode longer ones
// are. If base already matches targetDims, base is returned unchanged.
func WrapToDims(base Provider, targetDims int, mode string) Provider {
	if base == nil || targetDims <= 0 || base.Dimensions() == targetDims {
		return base
	}
	m := strings.ToLower(strings.TrimSpace(mode))
	if m == "" {
		m = AdaptPadOrTruncate
	}
	return &dimsAdapter{base: base, targetDims: targetDims, mode: m}
}

func (p *dimsAdapter) Name() string { return p.base.Name() }

func (p *dimsAdapter) Dimensions() int { return p.targetDims }

func (p *dimsAdapter) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	vecs, err := p.base.Embed(ctx, inputs)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		a, err := adaptVector(v, p.targetDims, p.mode)
		if err != nil {
			return nil, apperr.Wrap(apperr.Permanent, p.base.Name()+".embed", err)
		}
		out[i] = a
	}
	return out, nil
}

func adaptVector(v []float32, target int, mode string) ([]float32, error) {
	n := len(v)
	switch {
	case n == target:
		return v, nil
	case n > target:
		if mode == AdaptPad {
			return nil, fmt.Errorf("vector has %d dimensions, index expects %d", n, target)
		}
		return v[:target], nil
	default:
		if mode == AdaptTruncate {
			return nil, fmt.Errorf("vector has %d dimensions, index expects %d", n, target)
		}
		out := make([]float32, target)
		copy(out, v)
		return out, nil
	}
}
