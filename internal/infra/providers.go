package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderDefaults are per-provider settings applied when a request leaves them empty.
type ProviderDefaults struct {
	Model   string            `yaml:"model"`
	Size    string            `yaml:"size"`
	BaseURL string            `yaml:"base_url"`
	Options map[string]string `yaml:"options"`
}

// ProviderChain is the image provider ordering used when a request does not name fallbacks.
type ProviderChain struct {
	DefaultProvider string                      `yaml:"default_provider"`
	Fallbacks       []string                    `yaml:"fallbacks"`
	Providers       map[string]ProviderDefaults `yaml:"providers"`
}

// DefaultProviderChain tries a key-less stock source first, then a key-less
// generative source.
func DefaultProviderChain() ProviderChain {
	return ProviderChain{
		DefaultProvider: "pollinations",
		Fallbacks:       []string{"picsum", "pollinations"},
		Providers:       map[string]ProviderDefaults{},
	}
}

// LoadProviderChain reads a YAML chain file. An empty path yields the defaults.
func LoadProviderChain(path string) (ProviderChain, error) {
	chain := DefaultProviderChain()
	path = strings.TrimSpace(path)
	if path == "" {
		return chain, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return chain, fmt.Errorf("read provider chain: %w", err)
	}
	return ParseProviderChain(raw)
}

// ParseProviderChain decodes YAML over the defaults and normalizes names.
func ParseProviderChain(raw []byte) (ProviderChain, error) {
	chain := DefaultProviderChain()
	var decoded ProviderChain
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return chain, fmt.Errorf("decode provider chain: %w", err)
	}
	if p := normalizeName(decoded.DefaultProvider); p != "" {
		chain.DefaultProvider = p
	}
	if decoded.Fallbacks != nil {
		chain.Fallbacks = dedupeNames(decoded.Fallbacks)
	}
	for name, defaults := range decoded.Providers {
		chain.Providers[normalizeName(name)] = defaults
	}
	return chain, nil
}

// Defaults returns configured defaults for a provider.
func (c ProviderChain) Defaults(provider string) ProviderDefaults {
	return c.Providers[normalizeName(provider)]
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func dedupeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = normalizeName(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
