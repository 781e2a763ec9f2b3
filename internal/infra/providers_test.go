package infra

import "testing"

func TestParseProviderChain(t *testing.T) {
	raw := []byte(`
default_provider: OpenAI
fallbacks: [picsum, " Pollinations ", picsum, ""]
providers:
  openai:
    model: dall-e-3
    size: 1024x1024
`)
	chain, err := ParseProviderChain(raw)
	if err != nil {
		t.Fatalf("ParseProviderChain returned error: %v", err)
	}
	if chain.DefaultProvider != "openai" {
		t.Fatalf("DefaultProvider = %q, want openai", chain.DefaultProvider)
	}
	want := []string{"picsum", "pollinations"}
	if len(chain.Fallbacks) != len(want) {
		t.Fatalf("Fallbacks = %#v, want %#v", chain.Fallbacks, want)
	}
	for i := range want {
		if chain.Fallbacks[i] != want[i] {
			t.Fatalf("Fallbacks[%d] = %q, want %q", i, chain.Fallbacks[i], want[i])
		}
	}
	if got := chain.Defaults("OPENAI").Model; got != "dall-e-3" {
		t.Fatalf("openai model = %q, want dall-e-3", got)
	}
}

func TestLoadProviderChainWithoutFileUsesDefaults(t *testing.T) {
	chain, err := LoadProviderChain("")
	if err != nil {
		t.Fatalf("LoadProviderChain returned error: %v", err)
	}
	if chain.DefaultProvider != "pollinations" || len(chain.Fallbacks) != 2 {
		t.Fatalf("unexpected defaults: %#v", chain)
	}
}

func TestParseProviderChainRejectsInvalidYAML(t *testing.T) {
	if _, err := ParseProviderChain([]byte("fallbacks: [unterminated")); err == nil {
		t.Fatalf("expected decode error")
	}
}
