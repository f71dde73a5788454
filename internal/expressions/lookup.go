// Package expressions evaluates workflow step conditions and resolves
// ${{...}} references in step params. Conditions compile at workflow build
// time; evaluation against prior step results never panics.
package expressions

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Lookup navigates a decoded JSON value along a dot-path. Map segments index
// objects; numeric segments index arrays. Returns false when any segment is
// missing or the value cannot be traversed.
func Lookup(root any, path []string) (any, bool) {
	current := root
	for _, seg := range path {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// LookupPath is Lookup with a dot-delimited path string.
func LookupPath(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}
	return Lookup(root, strings.Split(path, "."))
}

// Decode unmarshals raw JSON into a generic value. Empty input decodes to
// nil; undecodable input returns (nil, false).
func Decode(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Truthy reports whether a decoded JSON value counts as success in checkpoint
// judgments. Booleans are themselves, numbers are true when nonzero, strings
// when non-empty and not "false", nil is false, and anything else is true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case string:
		return val != "" && !strings.EqualFold(val, "false")
	default:
		return true
	}
}
