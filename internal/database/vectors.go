package database

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// vectorZeroString builds a zero vector literal for the current embedding dims
func (dm *DBManager) vectorZeroString() string {
	dims := dm.EmbeddingDims()
	parts := make([]string, dims)
	for i := range parts {
		parts[i] = "0.0"
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// vectorToString converts a float32 array to libSQL vector string format.
// Non-finite components are stored as 0.
func (dm *DBManager) vectorToString(numbers []float32) (string, error) {
	if len(numbers) == 0 {
		return dm.vectorZeroString(), nil
	}
	dims := dm.EmbeddingDims()
	if len(numbers) != dims {
		return "", fmt.Errorf("vector must have exactly %d dimensions, got %d", dims, len(numbers))
	}
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			n = 0
		}
		parts[i] = strconv.FormatFloat(float64(n), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}

// extractVector decodes an F32_BLOB.
func extractVector(embedding []byte) ([]float32, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if len(embedding)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding size: %d bytes is not a multiple of 4", len(embedding))
	}
	vector := make([]float32, len(embedding)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(embedding[i*4 : (i+1)*4]))
	}
	return vector, nil
}

// CoerceVector interprets a decoded JSON value (or any numeric slice) as a
// vector. ok is false when value is not slice-like at all.
func CoerceVector(value any) (vec []float32, ok bool, err error) {
	return coerceToFloat32Slice(value)
}

// coerceToFloat32Slice attempts to interpret arbitrary slice-like inputs as a []float32
func coerceToFloat32Slice(value interface{}) ([]float32, bool, error) {
	switch v := value.(type) {
	case []float32:
		out := make([]float32, len(v))
		copy(out, v)
		return out, true, nil
	case []float64:
		out := make([]float32, len(v))
		for i, n := range v {
			out[i] = float32(n)
		}
		return out, true, nil
	case []int:
		out := make([]float32, len(v))
		for i, n := range v {
			out[i] = float32(n)
		}
		return out, true, nil
	case []int64:
		out := make([]float32, len(v))
		for i, n := range v {
			out[i] = float32(n)
		}
		return out, true, nil
	case []interface{}:
		out := make([]float32, len(v))
		for i, elem := range v {
			switch n := elem.(type) {
			case float64:
				out[i] = float32(n)
			case float32:
				out[i] = n
			case int:
				out[i] = float32(n)
			case int64:
				out[i] = float32(n)
			case json.Number:
				f, err := n.Float64()
				if err != nil {
					return nil, false, fmt.Errorf("invalid json.Number at index %d: %v", i, err)
				}
				out[i] = float32(f)
			case string:
				f, err := strconv.ParseFloat(n, 64)
				if err != nil {
					return nil, false, fmt.Errorf("invalid numeric string at index %d: %v", i, err)
				}
				out[i] = float32(f)
			default:
				return nil, false, fmt.Errorf("unsupported vector element type at index %d: %T", i, elem)
			}
		}
		return out, true, nil
	}

	// Try reflection for other slice/array kinds
	rv := reflect.ValueOf(value)
	if rv.IsValid() && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
		n := rv.Len()
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			el := rv.Index(i).Interface()
			switch x := el.(type) {
			case float64:
				out[i] = float32(x)
			case float32:
				out[i] = x
			case int:
				out[i] = float32(x)
			case int64:
				out[i] = float32(x)
			case json.Number:
				f, err := x.Float64()
				if err != nil {
					return nil, false, fmt.Errorf("invalid json.Number at index %d: %v", i, err)
				}
				out[i] = float32(f)
			case string:
				f, err := strconv.ParseFloat(x, 64)
				if err != nil {
					return nil, false, fmt.Errorf("invalid numeric string at index %d: %v", i, err)
				}
				out[i] = float32(f)
			default:
				return nil, false, fmt.Errorf("unsupported element type at index %d: %T", i, el)
			}
		}
		return out, true, nil
	}

	return nil, false, nil
}


