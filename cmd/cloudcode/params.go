package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oriys/cloudcode/internal/domain"
)

// parseParams merges a JSON object with key=value pairs. Pair values that
// parse as JSON are taken as such, anything else as a string.
func parseParams(raw string, pairs []string) (domain.Params, error) {
	params := domain.Params{}
	if strings.TrimSpace(raw) != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()
		if err := dec.Decode(&params); err != nil {
			return nil, fmt.Errorf("invalid --params JSON: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q: want key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err == nil {
			params[key] = v
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
