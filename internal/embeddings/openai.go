package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apperr"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIProvider struct {
	model   string
	dims    int
	baseURL string
	http    *http.Client
	apiKey  string
}

func newOpenAI(cfg Config) (Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dims := 1536
	if strings.Contains(model, "large") {
		dims = 3072
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	return &openAIProvider{model: model, dims: dims, baseURL: base, http: &http.Client{Timeout: cfg.Timeout}, apiKey: apiKey}, nil
}

func (p *openAIProvider) Name() string    { return "openai" }
func (p *openAIProvider) Dimensions() int { return p.dims }

func (p *openAIProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	body, _ := json.Marshal(map[string]any{"model": p.model, "input": inputs})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.Permanent, "openai.embed", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Classify(err), "openai.embed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var b struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := string(raw)
		if json.Unmarshal(raw, &b) == nil && b.Error.Message != "" {
			msg = b.Error.Message
		}
		return nil, apperr.FromHTTPStatus("openai.embed", resp.StatusCode, msg)
	}
	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "openai.embed", err)
	}
	if len(out.Data) != len(inputs) {
		return nil, apperr.New(apperr.Transient, "openai.embed", fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(out.Data)))
	}
	res := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		idx := d.Index
		if idx < 0 || idx >= len(res) {
			idx = i
		}
		res[idx] = f64to32(d.Embedding)
	}
	return res, nil
}
