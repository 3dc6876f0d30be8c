//go:build noprom

package metrics

import "net/http"

// When built with -tags noprom, metrics stay on the no-op recorder.
func enablePrometheus() (http.Handler, error) { return nil, nil }
