package imagegen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pageforge/internal/domain"
)

// scriptedGenerator fails the first failures[provider] calls per provider.
type scriptedGenerator struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int
	kind     map[string]domain.ProviderErrorKind
	block    map[string]bool
}

func newScripted() *scriptedGenerator {
	return &scriptedGenerator{
		calls:    map[string]int{},
		failures: map[string]int{},
		kind:     map[string]domain.ProviderErrorKind{},
		block:    map[string]bool{},
	}
}

func (s *scriptedGenerator) Generate(ctx context.Context, description string, cfg Config) (domain.ImageRef, error) {
	s.mu.Lock()
	s.calls[cfg.Provider]++
	n := s.calls[cfg.Provider]
	fail := n <= s.failures[cfg.Provider]
	kind := s.kind[cfg.Provider]
	block := s.block[cfg.Provider]
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return domain.ImageRef{}, domain.NewProviderError(cfg.Provider, domain.ProviderTimeout, 0, ctx.Err())
	}
	if fail {
		if kind == "" {
			kind = domain.ProviderUnavailable
		}
		return domain.ImageRef{}, domain.NewProviderError(cfg.Provider, kind, 0, errors.New("scripted failure"))
	}
	return domain.ImageRef{URL: "https://" + cfg.Provider + ".example.com/" + description, Provider: cfg.Provider}, nil
}

func (s *scriptedGenerator) count(provider string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[provider]
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		AttemptTimeout: time.Second,
		Deadline:       5 * time.Second,
	}
}

func TestFallbackChainRetriesPrimary(t *testing.T) {
	gen := newScripted()
	gen.failures["primary"] = 1
	chain := NewFallbackChain(gen, ChainOptions{Policy: fastPolicy()})

	ref := chain.Resolve(context.Background(), "cake", Config{Provider: "primary"}, []Config{{Provider: "fb"}})
	if ref.Provider != "primary" || ref.Placeholder {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if gen.count("primary") != 2 {
		t.Fatalf("primary calls = %d, want 2", gen.count("primary"))
	}
	if gen.count("fb") != 0 {
		t.Fatalf("fallback should not be called")
	}
}

func TestFallbackChainFallsBackInOrder(t *testing.T) {
	gen := newScripted()
	gen.failures["primary"] = 10
	gen.failures["first"] = 10
	chain := NewFallbackChain(gen, ChainOptions{Policy: fastPolicy()})

	ref := chain.Resolve(context.Background(), "cake", Config{Provider: "primary"}, []Config{{Provider: "first"}, {Provider: "second"}})
	if ref.Provider != "second" {
		t.Fatalf("Provider = %q, want second", ref.Provider)
	}
	if gen.count("primary") != 3 {
		t.Fatalf("primary calls = %d, want 3", gen.count("primary"))
	}
	if gen.count("first") != 1 {
		t.Fatalf("fallbacks are tried once, got %d", gen.count("first"))
	}
}

func TestFallbackChainAuthAbortsRetries(t *testing.T) {
	gen := newScripted()
	gen.failures["primary"] = 10
	gen.kind["primary"] = domain.ProviderAuthInvalid
	chain := NewFallbackChain(gen, ChainOptions{Policy: fastPolicy()})

	ref := chain.Resolve(context.Background(), "cake", Config{Provider: "primary"}, []Config{{Provider: "fb"}})
	if gen.count("primary") != 1 {
		t.Fatalf("auth failure retried: %d calls", gen.count("primary"))
	}
	if ref.Provider != "fb" {
		t.Fatalf("Provider = %q, want fb", ref.Provider)
	}
}

func TestFallbackChainAllFailReturnsPlaceholder(t *testing.T) {
	gen := newScripted()
	gen.failures["primary"] = 10
	gen.failures["fb"] = 10
	chain := NewFallbackChain(gen, ChainOptions{Policy: fastPolicy()})

	ref := chain.Resolve(context.Background(), "cake", Config{Provider: "primary", Width: 400, Height: 300}, []Config{{Provider: "fb"}})
	if !ref.Placeholder || ref.Empty() {
		t.Fatalf("expected placeholder, got %+v", ref)
	}
	if ref.MIME != "image/svg+xml" {
		t.Fatalf("MIME = %q", ref.MIME)
	}
}

func TestFallbackChainHonoursDeadline(t *testing.T) {
	gen := newScripted()
	gen.block["primary"] = true
	gen.block["fb1"] = true
	gen.block["fb2"] = true
	policy := fastPolicy()
	policy.AttemptTimeout = 40 * time.Millisecond
	policy.Deadline = 100 * time.Millisecond
	chain := NewFallbackChain(gen, ChainOptions{Policy: policy})

	start := time.Now()
	ref := chain.Resolve(context.Background(), "cake", Config{Provider: "primary"}, []Config{{Provider: "fb1"}, {Provider: "fb2"}})
	elapsed := time.Since(start)
	if !ref.Placeholder {
		t.Fatalf("expected placeholder after deadline, got %+v", ref)
	}
	if elapsed > time.Second {
		t.Fatalf("resolution took %s, deadline was %s", elapsed, policy.Deadline)
	}
	if gen.count("fb2") != 0 {
		t.Fatalf("fallbacks past the deadline must be skipped")
	}
}

func TestFallbackChainSurvivesCancelledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chain := NewFallbackChain(newScripted(), ChainOptions{Policy: fastPolicy()})
	ref := chain.Resolve(ctx, "cake", Config{Provider: "primary"}, nil)
	if ref.Empty() {
		t.Fatalf("Resolve returned an empty reference")
	}
}

func TestPolicyNormalized(t *testing.T) {
	p := RetryPolicy{}.normalized()
	if p.MaxAttempts != 1 || p.Deadline <= 0 || p.AttemptTimeout <= 0 || p.MaxBackoff < p.InitialBackoff {
		t.Fatalf("unexpected normalized policy: %+v", p)
	}
}
