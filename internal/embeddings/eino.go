package embeddings

import (
	"context"
	"fmt"
	"strings"

	einoopenai "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apperr"
)

// einoProvider adapts an eino Embedder to Provider. It serves any OpenAI
// compatible endpoint (LocalAI, llama.cpp, vLLM, hosted gateways).
type einoProvider struct {
	embedder embedding.Embedder
	model    string
	dims     int
}

func newEino(ctx context.Context, cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("eino embeddings: model is required")
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 1536
	}
	ecfg := &einoopenai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
	if cfg.Dimensions > 0 {
		d := cfg.Dimensions
		ecfg.Dimensions = &d
	}
	em, err := einoopenai.NewEmbedder(ctx, ecfg)
	if err != nil {
		return nil, fmt.Errorf("eino embeddings: %w", err)
	}
	return NewEinoProvider(em, cfg.Model, dims), nil
}

// NewEinoProvider wraps an existing eino Embedder.
func NewEinoProvider(em embedding.Embedder, model string, dims int) Provider {
	return &einoProvider{embedder: em, model: model, dims: dims}
}

func (p *einoProvider) Name() string    { return "eino" }
func (p *einoProvider) Dimensions() int { return p.dims }

func (p *einoProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := p.embedder.EmbedStrings(ctx, inputs)
	if err != nil {
		return nil, apperr.Wrap(apperr.Classify(err), "eino.embed", err)
	}
	if len(vecs) != len(inputs) {
		return nil, apperr.New(apperr.Transient, "eino.embed", fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(vecs)))
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		out[i] = f64to32(v)
	}
	return out, nil
}
