package config

import (
	"fmt"
	"strings"
)

// ParseConfigPath splits a dotted key such as
// "stores.profiles.default.shopBaseUrl" into its segments.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for i, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: fmt.Sprintf("config path %q has an empty segment at position %d", raw, i+1)}
		}
	}
	return parts, nil
}

// GetValueAtPath looks path up in a decoded YAML document.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	parent, ok := walk(root, path, false)
	if !ok {
		return nil, false
	}
	v, ok := parent[path[len(path)-1]]
	return v, ok
}

// SetValueAtPath stores value at path. Missing or scalar intermediate
// nodes are replaced with maps.
func SetValueAtPath(root map[string]any, path []string, value any) {
	if parent, ok := walk(root, path, true); ok {
		parent[path[len(path)-1]] = value
	}
}

// UnsetValueAtPath deletes the value at path and reports whether there was one.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	parent, ok := walk(root, path, false)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, ok := parent[last]; !ok {
		return false
	}
	delete(parent, last)
	return true
}

// walk returns the map holding the final segment of path.
func walk(root map[string]any, path []string, create bool) (map[string]any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	cur := root
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	return cur, true
}
