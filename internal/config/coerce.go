package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// scalarKeys are string fields people tend to write as bare numbers
// (country_code: 91, cooldown: 2). They are quoted before the strict decode.
var scalarKeys = map[string]struct{}{
	"country_code":  {},
	"cooldown":      {},
	"retry_delay":   {},
	"audit_timeout": {},
	"timeout":       {},
	"busy_timeout":  {},
	"read_timeout":  {},
	"write_timeout": {},
	"redis_key":     {},
}

// toStrictJSON turns a JSON or YAML document into JSON that the strict
// decoder accepts. The format follows the file extension.
func toStrictJSON(path string, data []byte) ([]byte, string, error) {
	format := "json"
	var v any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, format, fmt.Errorf("yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil || dec.Decode(new(any)) != io.EOF {
			// the strict decode reports syntax errors and trailing data
			return data, format, nil
		}
	}
	out, err := json.Marshal(quoteScalars(v, ""))
	if err != nil {
		return nil, format, fmt.Errorf("%s -> json: %w", format, err)
	}
	return out, format, nil
}

// quoteScalars stringifies map keys and the numeric values of scalarKeys.
func quoteScalars(in any, key string) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			ks := fmt.Sprint(k)
			m[ks] = quoteScalars(v, ks)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = quoteScalars(v, k)
		}
		return x
	case []any:
		for i := range x {
			x[i] = quoteScalars(x[i], "")
		}
		return x
	case int, int64, uint64, float64, json.Number:
		if _, ok := scalarKeys[key]; ok {
			return fmt.Sprint(x)
		}
		return in
	default:
		return in
	}
}
