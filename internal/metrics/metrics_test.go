//go:build !noprom

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnableServesRegisteredSeries(t *testing.T) {
	t.Cleanup(func() { SetRecorder(nil) })

	h, err := Enable()
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.NotNil(t, Handler())

	Default().IncBreakerCall("remote", "success")
	Default().SetServiceLevel(1)
	TimeStrategy("local")(true)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `campaign_vectors_breaker_calls_total{name="remote",outcome="success"} 1`)
	assert.Contains(t, string(body), "campaign_vectors_service_level 1")
	assert.Contains(t, string(body), `campaign_vectors_search_strategy_total{strategy="local",success="true"} 1`)
}

func TestSetRecorderNilFallsBackToNoop(t *testing.T) {
	SetRecorder(nil)
	assert.NotPanics(t, func() {
		TimeOp("noop")(true)
		TimeTool("noop")(false)
	})
}
