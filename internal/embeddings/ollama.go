package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apperr"
)

type ollamaProvider struct {
	host  *url.URL
	model string
	dims  int
	http  *http.Client
}

func newOllama(cfg Config) (Provider, error) {
	host := cfg.BaseURL
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: invalid host %q: %w", host, err)
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	return &ollamaProvider{host: u, model: model, dims: 768, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (p *ollamaProvider) Name() string    { return "ollama" }
func (p *ollamaProvider) Dimensions() int { return p.dims }

func (p *ollamaProvider) endpoint(name string) string {
	u := *p.host
	u.Path = path.Join(u.Path, name)
	return u.String()
}

var errLegacyEndpoint = errors.New("ollama /api/embed not available")

// Embed prefers /api/embed (batch) and falls back to the older per-input
// /api/embeddings endpoint on servers that predate it.
func (p *ollamaProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := p.post(ctx, "/api/embed", map[string]any{"model": p.model, "input": inputs}, &out)
	if errors.Is(err, errLegacyEndpoint) {
		return p.embedLegacy(ctx, inputs)
	}
	if err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, apperr.New(apperr.Transient, "ollama.embed", fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(out.Embeddings)))
	}
	return out.Embeddings, nil
}

func (p *ollamaProvider) embedLegacy(ctx context.Context, inputs []string) ([][]float32, error) {
	res := make([][]float32, 0, len(inputs))
	for _, in := range inputs {
		var one struct {
			Embedding []float64 `json:"embedding"`
		}
		if err := p.post(ctx, "/api/embeddings", map[string]any{"model": p.model, "prompt": in}, &one); err != nil {
			return nil, err
		}
		if len(one.Embedding) == 0 {
			return nil, apperr.New(apperr.Transient, "ollama.embed", "ollama returned no embedding")
		}
		res = append(res, f64to32(one.Embedding))
	}
	return res, nil
}

func (p *ollamaProvider) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(endpoint), bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.Permanent, "ollama.embed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Classify(err), "ollama.embed", err)
	}
	defer resp.Body.Close()
	if endpoint == "/api/embed" && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed) {
		return errLegacyEndpoint
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var b struct {
			Error string `json:"error"`
		}
		msg := string(raw)
		if json.Unmarshal(raw, &b) == nil && b.Error != "" {
			msg = b.Error
		}
		return apperr.FromHTTPStatus("ollama.embed", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.Transient, "ollama.embed", err)
	}
	return nil
}
