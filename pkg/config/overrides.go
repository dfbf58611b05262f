package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ParseOverrides splits "key=value" pairs as given to --set.
func ParseOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q: expected key=value", pair)
		}
		out[strings.ToLower(key)] = value
	}
	return out, nil
}

// ApplyOverrides decodes dotted keys such as "instrument.io_timeout" into
// cfg and validates the result. Values are weakly typed, so "2s", "true"
// and "1024" decode into durations, booleans and integers. Unknown keys
// are rejected.
func ApplyOverrides(cfg *Config, overrides map[string]string) error {
	if len(overrides) == 0 {
		return nil
	}

	tree := make(map[string]interface{})
	for key, value := range overrides {
		if err := insert(tree, strings.Split(key, "."), value); err != nil {
			return err
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       configDecodeHooks(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(tree); err != nil {
		return fmt.Errorf("invalid override: %w", err)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func insert(tree map[string]interface{}, path []string, value string) error {
	if len(path) == 1 {
		tree[path[0]] = value
		return nil
	}
	child, ok := tree[path[0]]
	if !ok {
		next := make(map[string]interface{})
		tree[path[0]] = next
		return insert(next, path[1:], value)
	}
	sub, ok := child.(map[string]interface{})
	if !ok {
		return fmt.Errorf("override %q conflicts with a value set for %q", strings.Join(path, "."), path[0])
	}
	return insert(sub, path[1:], value)
}
