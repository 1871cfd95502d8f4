package config

import (
	"fmt"
	"time"
)

// Config wraps a decoded YAML/JSON document for typed value extraction.
// Accessors return the default when the key is missing or the value has
// the wrong type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map. A nil map yields an empty Config.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Bool returns the boolean value for key.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := c.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key. Floats are accepted only when
// they have no fractional part (JSON decodes every number as float64).
func (c Config) Int(key string, defaultVal int) int {
	switch val := c.data[key].(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Float returns the float value for key. Integers are converted.
func (c Config) Float(key string, defaultVal float64) float64 {
	switch val := c.data[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	return defaultVal
}

// Duration returns the duration value for key.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch val := c.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case float64:
		return time.Duration(val * float64(time.Second))
	case time.Duration:
		return val
	}
	return defaultVal
}

// StringMap returns a map of string values for key. Non-string values are
// formatted with %v.
func (c Config) StringMap(key string) map[string]string {
	raw, ok := c.data[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

// Section returns the nested mapping under key as a Config.
func (c Config) Section(key string) Config {
	m, _ := c.data[key].(map[string]any)
	return New(m)
}

// Has reports whether key exists.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}
