package imagegen

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"pageforge/internal/domain"
	"pageforge/internal/infra"
)

// RetryPolicy is the single place that decides attempt counts, the backoff
// curve and both timeout budgets.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AttemptTimeout bounds one provider call.
	AttemptTimeout time.Duration
	// Deadline bounds the whole resolution of one placeholder.
	Deadline time.Duration
}

// PolicyFromConfig maps the service retry settings onto a policy.
func PolicyFromConfig(cfg infra.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.BackoffInitial,
		MaxBackoff:     cfg.BackoffMax,
		AttemptTimeout: cfg.AttemptTimeout,
		Deadline:       cfg.PlaceholderDeadline,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = 45 * time.Second
	}
	if p.Deadline <= 0 {
		p.Deadline = 2 * time.Minute
	}
	return p
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialBackoff
	exp.MaxInterval = p.MaxBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.2
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// ChainOptions configures a FallbackChain.
type ChainOptions struct {
	Policy RetryPolicy
	// Placeholder is the last resort; it must not depend on the network.
	Placeholder Provider
	// Limiter throttles every provider call made through the chain.
	Limiter *rate.Limiter
	Logger  *infra.Logger
}

// FallbackChain resolves one description: the primary provider with bounded
// retries, then each fallback once, then the static placeholder.
type FallbackChain struct {
	generator   Generator
	policy      RetryPolicy
	placeholder Provider
	limiter     *rate.Limiter
	logger      *infra.Logger
}

func NewFallbackChain(generator Generator, opts ChainOptions) *FallbackChain {
	placeholder := opts.Placeholder
	if placeholder == nil {
		placeholder = NewPlaceholderProvider()
	}
	return &FallbackChain{
		generator:   generator,
		policy:      opts.Policy.normalized(),
		placeholder: placeholder,
		limiter:     opts.Limiter,
		logger:      infra.OrDiscard(opts.Logger),
	}
}

// Policy returns the effective retry policy.
func (c *FallbackChain) Policy() RetryPolicy { return c.policy }

// Resolve never fails: when the deadline passes or every provider has failed
// it returns the static placeholder image.
func (c *FallbackChain) Resolve(ctx context.Context, description string, primary Config, fallbacks []Config) domain.ImageRef {
	deadlineCtx, cancel := context.WithTimeout(ctx, c.policy.Deadline)
	defer cancel()
	log := c.logger.With().Str("primary", primary.Provider).Logger()

	ref, err := c.tryPrimary(deadlineCtx, description, primary)
	if err == nil {
		return ref
	}
	log.Warn().Err(err).Msg("primary image provider exhausted")

	for _, fb := range fallbacks {
		if deadlineCtx.Err() != nil {
			break
		}
		ref, err := c.attempt(deadlineCtx, description, fb)
		if err == nil {
			log.Info().Str("fallback", fb.Provider).Msg("image resolved by fallback provider")
			return ref
		}
		log.Warn().Err(err).Str("fallback", fb.Provider).Msg("fallback image provider failed")
	}

	if deadlineCtx.Err() != nil {
		log.Warn().Dur("deadline", c.policy.Deadline).Msg("placeholder deadline reached")
	}
	return c.static(description, primary)
}

func (c *FallbackChain) tryPrimary(ctx context.Context, description string, cfg Config) (domain.ImageRef, error) {
	var ref domain.ImageRef
	attempts := 0
	op := func() error {
		attempts++
		r, err := c.attempt(ctx, description, cfg)
		if err != nil {
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		ref = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug().Err(err).Int("attempt", attempts).Dur("wait", wait).Str("provider", cfg.Provider).Msg("retrying image provider")
	}
	if err := backoff.RetryNotify(op, c.policy.backoff(ctx), notify); err != nil {
		return domain.ImageRef{}, err
	}
	return ref, nil
}

func (c *FallbackChain) attempt(ctx context.Context, description string, cfg Config) (domain.ImageRef, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.ImageRef{}, domain.NewProviderError(cfg.Provider, domain.ProviderTimeout, 0, err)
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.policy.AttemptTimeout)
	defer cancel()
	return c.generator.Generate(attemptCtx, description, cfg)
}

func (c *FallbackChain) static(description string, cfg Config) domain.ImageRef {
	ref, err := c.placeholder.Generate(context.Background(), description, Config{Width: cfg.Width, Height: cfg.Height, Size: cfg.Size})
	if err != nil || ref.Empty() {
		ref = placeholderRef(description, 0, 0)
	}
	ref.Placeholder = true
	return ref
}

// isPermanent reports errors that retrying the same provider cannot fix.
func isPermanent(err error) bool {
	if errors.Is(err, domain.ErrUnknownProvider) {
		return true
	}
	return domain.ProviderErrorKindOf(err) == domain.ProviderAuthInvalid
}
