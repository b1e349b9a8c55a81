package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keyfile maps a provider name to the list of API keys available for its
// credential pool.
type Keyfile struct {
	Providers map[string][]string `yaml:"providers"`
}

// LoadKeyfile reads the YAML credential file at path. A missing path returns
// an empty keyfile rather than an error so single-key env configuration keeps
// working without one.
func LoadKeyfile(path string) (*Keyfile, error) {
	kf := &Keyfile{Providers: map[string][]string{}}
	if strings.TrimSpace(path) == "" {
		return kf, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	if err := yaml.Unmarshal(raw, kf); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	if kf.Providers == nil {
		kf.Providers = map[string][]string{}
	}
	return kf, nil
}

// Keys returns the configured keys for provider merged with extra, trimmed
// and de-duplicated, preserving order.
func (f *Keyfile) Keys(provider string, extra ...string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(key string) {
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	for _, key := range f.Providers[provider] {
		add(key)
	}
	for _, key := range extra {
		add(key)
	}
	return out
}
