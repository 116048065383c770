package config

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Override values come from JSON (numbers are float64), YAML (ints are int)
// or Go callers. The As* helpers accept any of those representations.

// AsInt converts v to an int. Floats must be integral.
func AsInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int8:
		return int(x), nil
	case int16:
		return int(x), nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case uint:
		return int(x), nil
	case uint8:
		return int(x), nil
	case uint16:
		return int(x), nil
	case uint32:
		return int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int", x)
		}
		return int(x), nil
	case float32:
		return AsInt(float64(x))
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, fmt.Errorf("value %v is not an integer", x)
		}
		return int(x), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("value %q is not an integer", x)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("value %q is not an integer", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot use %T as int", v)
	}
}

// AsFloat converts v to a float64.
func AsFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("value %q is not a number", x)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not a number", x)
		}
		return f, nil
	case bool, nil:
		return 0, fmt.Errorf("cannot use %T as float", v)
	default:
		n, err := AsInt(v)
		if err != nil {
			return 0, fmt.Errorf("cannot use %T as float", v)
		}
		return float64(n), nil
	}
}

// AsString converts v to a string. Only strings and fmt.Stringers are accepted
// so that a number in a string slot is reported rather than silently formatted.
func AsString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return "", fmt.Errorf("cannot use %T as string", v)
	}
}

// AsBool converts v to a bool. The strings "true" and "false" are accepted.
func AsBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("value %q is not a bool", x)
		}
		return b, nil
	default:
		return false, fmt.Errorf("cannot use %T as bool", v)
	}
}

// AsIntSlice converts v to []int. A single integer becomes a one-element slice.
func AsIntSlice(v any) ([]int, error) {
	switch x := v.(type) {
	case []int:
		return append([]int(nil), x...), nil
	case []any:
		out := make([]int, len(x))
		for i, e := range x {
			n, err := AsInt(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case []float64:
		out := make([]int, len(x))
		for i, e := range x {
			n, err := AsInt(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	default:
		n, err := AsInt(v)
		if err != nil {
			return nil, fmt.Errorf("cannot use %T as []int", v)
		}
		return []int{n}, nil
	}
}
