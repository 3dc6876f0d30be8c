package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKeywords(t *testing.T) {
	cases := []struct {
		msg  string
		want Category
	}{
		{"Request failed: 401 Unauthorized", Authentication},
		{"403 Forbidden", Authorization},
		{"429 Too Many Requests", Throttling},
		{"dial tcp: connection refused", Network},
		{"operation timed out", Timeout},
		{"503 Service Unavailable", Transient},
		{"400 Bad Request: malformed body", Permanent},
		{"something odd happened", Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(errors.New(tc.msg)))
		})
	}
}

func TestClassifyStatusCodesMatchWholeTokens(t *testing.T) {
	assert.Equal(t, Unknown, Classify(errors.New("embedding call took 1400ms")))
	assert.Equal(t, Unknown, Classify(errors.New("shard 5004 rebalanced")))
	assert.Equal(t, Throttling, Classify(errors.New("HTTP 429")))
	assert.Equal(t, Transient, Classify(errors.New("upstream returned status 500")))
	assert.Equal(t, Permanent, Classify(errors.New("code=404")))
	assert.False(t, Retryable(Classify(errors.New("(400)"))))
}

func TestClassifyAmbiguousUsesPriorityOrder(t *testing.T) {
	// network outranks timeout
	assert.Equal(t, Network, Classify(errors.New("network timeout while reading")))
	// timeout outranks throttling
	assert.Equal(t, Timeout, Classify(errors.New("rate limit check timed out")))
	// authentication outranks transient
	assert.Equal(t, Authentication, Classify(errors.New("unauthorized: upstream 503")))
}

func TestClassifyTypedWins(t *testing.T) {
	err := fmt.Errorf("embed: %w", New(Permanent, "openai.embed", "network looks fine"))
	assert.Equal(t, Permanent, Classify(err))
	assert.Equal(t, Timeout, Classify(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.Equal(t, Unknown, Classify(nil))
}

func TestFromHTTPStatus(t *testing.T) {
	assert.Equal(t, Authentication, FromHTTPStatus("op", 401, "").Category)
	assert.Equal(t, Authorization, FromHTTPStatus("op", 403, "").Category)
	assert.Equal(t, Throttling, FromHTTPStatus("op", 429, "").Category)
	assert.Equal(t, Transient, FromHTTPStatus("op", 503, "").Category)
	assert.Equal(t, Permanent, FromHTTPStatus("op", 422, "").Category)
	e := FromHTTPStatus("openai.embed", 500, "boom")
	assert.Contains(t, e.Error(), "status 500")
	assert.Contains(t, e.Error(), "boom")
}

func TestRetryable(t *testing.T) {
	for _, c := range []Category{Transient, Network, Timeout, Throttling, Unknown} {
		assert.True(t, Retryable(c), c)
	}
	for _, c := range []Category{Permanent, Authentication, Authorization} {
		assert.False(t, Retryable(c), c)
	}
}
