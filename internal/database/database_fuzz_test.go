package database

import (
	"bytes"
	"encoding/json"
	"testing"
)

// FuzzCoerceVector feeds CoerceVector the shapes a find_similar query takes
// once the MCP arguments are JSON-decoded: float arrays, numeric strings,
// mixed arrays, plain text and objects.
func FuzzCoerceVector(f *testing.F) {
	for _, seed := range []string{
		`[0.12, -0.5, 1]`,
		`["0.25", 3, -1e-3]`,
		`[]`,
		`[1, null]`,
		`[[1, 2]]`,
		`"castle ravenloft"`,
		`{"x": 1}`,
		`42`,
	} {
		f.Add([]byte(seed))
	}
	f.Fuzz(func(t *testing.T, raw []byte) {
		for _, useNumber := range []bool{false, true} {
			dec := json.NewDecoder(bytes.NewReader(raw))
			if useNumber {
				dec.UseNumber()
			}
			var query any
			if err := dec.Decode(&query); err != nil {
				return
			}
			vec, ok, err := CoerceVector(query)
			arr, isArray := query.([]any)
			switch {
			case !isArray && ok:
				t.Fatalf("non-array %T coerced to %v", query, vec)
			case ok && err == nil && len(vec) != len(arr):
				t.Fatalf("coerced %d elements from %d", len(vec), len(arr))
			case err != nil && ok:
				t.Fatalf("ok with error %v", err)
			}
		}
	})
}
