// Package credentials loads the ordered API key list for the credential ring.
package credentials

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type keyFile struct {
	APIKeys []string `json:"apiKeys"`
}

// LoadFile reads keys from a JSON file holding either {"apiKeys": [...]} or a
// bare array of strings.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}
	keys, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("credentials %s: %w", path, err)
	}
	return keys, nil
}

// Parse decodes either accepted JSON shape.
func Parse(data []byte) ([]string, error) {
	data = bytes.TrimSpace(data)
	var keys []string
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &keys); err != nil {
			return nil, fmt.Errorf("decode key array: %w", err)
		}
	} else {
		var f keyFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode key file: %w", err)
		}
		keys = f.APIKeys
	}
	return clean(keys), nil
}

// ParseList splits a comma separated value such as S3_CREDENTIALS_KEYS.
func ParseList(value string) []string {
	return clean(strings.Split(value, ","))
}

// Resolve merges explicit keys with keys from path. Explicit keys come first;
// duplicates keep their first position.
func Resolve(explicit []string, path string) ([]string, error) {
	keys := clean(explicit)
	if path != "" {
		fromFile, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		keys = append(keys, fromFile...)
	}
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, nil
}

func clean(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
