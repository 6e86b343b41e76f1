package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parsePatch turns "field=value" CLI arguments into the map[string]any
// shape client.Edit/UpdateScratchpad expect. A value that parses as JSON
// (numbers, booleans, arrays, quoted strings) is decoded as such;
// anything else is kept as a plain string.
func parsePatch(args []string) (map[string]any, error) {
	patch := make(map[string]any, len(args))
	for _, arg := range args {
		field, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid field=value pair %q", arg)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			patch[field] = decoded
		} else {
			patch[field] = value
		}
	}
	return patch, nil
}
