package layers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrInvalidConfig = errors.New("invalid layer config")

// Config is the keyword configuration of a layer. Values are either the
// native Go types set by builders or the generic types produced by decoding
// JSON; the accessors accept both.
type Config map[string]interface{}

func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// With returns a copy of c with the given key set.
func (c Config) With(key string, value interface{}) Config {
	out := c.Clone()
	out[key] = value
	return out
}

func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

func (c Config) Str(key, def string) (string, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid(key, v)
	}
	return s, nil
}

func (c Config) Float(key string, def float64) (float64, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, invalid(key, v)
	}
	return f, nil
}

func (c Config) Int(key string, def int) (int, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := toFloat(v)
	if err != nil || f != float64(int(f)) {
		return 0, invalid(key, v)
	}
	return int(f), nil
}

func (c Config) Bool(key string, def bool) (bool, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalid(key, v)
	}
	return b, nil
}

func (c Config) Floats(key string) ([]float64, error) {
	switch v := c[key].(type) {
	case nil:
		return nil, nil
	case []float64:
		return v, nil
	case []interface{}:
		out := make([]float64, len(v))
		for i, x := range v {
			f, err := toFloat(x)
			if err != nil {
				return nil, invalid(key, c[key])
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, invalid(key, v)
	}
}

func (c Config) Strings(key string) ([]string, error) {
	switch v := c[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, len(v))
		for i, x := range v {
			switch s := x.(type) {
			case string:
				out[i] = s
			default:
				f, err := toFloat(x)
				if err != nil {
					return nil, invalid(key, c[key])
				}
				out[i] = strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
		return out, nil
	default:
		return nil, invalid(key, v)
	}
}

// Ints accepts integer lists as well as lists of numeric strings, which is
// how integer vocabularies are stored in statistics files.
func (c Config) Ints(key string) ([]int64, error) {
	switch v := c[key].(type) {
	case nil:
		return nil, nil
	case []int64:
		return v, nil
	case []int:
		out := make([]int64, len(v))
		for i, n := range v {
			out[i] = int64(n)
		}
		return out, nil
	case []string:
		out := make([]int64, len(v))
		for i, s := range v {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, invalid(key, v)
			}
			out[i] = n
		}
		return out, nil
	case []interface{}:
		out := make([]int64, len(v))
		for i, x := range v {
			if s, ok := x.(string); ok {
				n, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					return nil, invalid(key, v)
				}
				out[i] = n
				continue
			}
			f, err := toFloat(x)
			if err != nil || f != float64(int64(f)) {
				return nil, invalid(key, v)
			}
			out[i] = int64(f)
		}
		return out, nil
	default:
		return nil, invalid(key, v)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func invalid(key string, v interface{}) error {
	return fmt.Errorf("%w: %s=%v (%T)", ErrInvalidConfig, key, v, v)
}
