package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apperr"
)

func TestNewDisabled(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = New(context.Background(), Config{Provider: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Provider: "openai"})
	assert.Error(t, err)
}

func TestOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		type item struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		// reversed order, providers key by index
		data := []item{}
		for i := len(body.Input) - 1; i >= 0; i-- {
			data = append(data, item{Index: i, Embedding: []float64{float64(i), 1}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	p, err := New(context.Background(), Config{Provider: "openai", APIKey: "sk-test", BaseURL: srv.URL + "/v1", Timeout: time.Second})
	require.NoError(t, err)
	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)
}

func TestOpenAIErrorsAreCategorized(t *testing.T) {
	cases := map[int]apperr.Category{
		http.StatusTooManyRequests:    apperr.Throttling,
		http.StatusUnauthorized:       apperr.Authentication,
		http.StatusServiceUnavailable: apperr.Transient,
		http.StatusBadRequest:         apperr.Permanent,
	}
	for status, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))
		p, err := New(context.Background(), Config{Provider: "openai", APIKey: "k", BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = p.Embed(context.Background(), []string{"x"})
		srv.Close()
		require.Error(t, err)
		assert.Equal(t, want, apperr.Classify(err), "status %d", status)
		assert.Contains(t, err.Error(), "nope")
	}
}

func TestOllamaLegacyFallback(t *testing.T) {
	var legacyCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			w.WriteHeader(http.StatusNotFound)
		case "/api/embeddings":
			legacyCalls++
			_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.5, 0.5}})
		}
	}))
	defer srv.Close()

	p, err := New(context.Background(), Config{Provider: "ollama", BaseURL: srv.URL})
	require.NoError(t, err)
	vecs, err := p.Embed(context.Background(), []string{"tavern", "keep"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 2, legacyCalls)
}

func TestOllamaBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1}, {2}}})
	}))
	defer srv.Close()
	p, err := New(context.Background(), Config{Provider: "ollama", BaseURL: srv.URL})
	require.NoError(t, err)
	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, vecs)
}

func TestWrapToDims(t *testing.T) {
	base := NewHashProvider(8)
	assert.Same(t, base, WrapToDims(base, 8, ""))

	padded := WrapToDims(base, 12, "")
	vecs, err := padded.Embed(context.Background(), []string{"goblin"})
	require.NoError(t, err)
	assert.Len(t, vecs[0], 12)

	trunc := WrapToDims(base, 4, AdaptTruncate)
	vecs, err = trunc.Embed(context.Background(), []string{"goblin"})
	require.NoError(t, err)
	assert.Len(t, vecs[0], 4)

	_, err = WrapToDims(base, 12, AdaptTruncate).Embed(context.Background(), []string{"goblin"})
	assert.Equal(t, apperr.Permanent, apperr.Classify(err))
	_, err = WrapToDims(base, 4, AdaptPad).Embed(context.Background(), []string{"goblin"})
	assert.Error(t, err)
}

func TestHashProviderDeterministic(t *testing.T) {
	p := NewHashProvider(64)
	a, err := p.Embed(context.Background(), []string{"The Red Dragon", "the red dragon"})
	require.NoError(t, err)
	assert.Equal(t, a[0], a[1])

	var norm float64
	for _, x := range a[0] {
		norm += float64(x * x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.25, 0.75}
	}
	return out, nil
}

func TestEinoProvider(t *testing.T) {
	p := NewEinoProvider(fakeEmbedder{}, "m", 2)
	vecs, err := p.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.25, 0.75}}, vecs)

	p = NewEinoProvider(fakeEmbedder{err: assert.AnError}, "m", 2)
	_, err = p.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}
