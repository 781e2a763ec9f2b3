package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrLockHeld is returned when another caller holds an unexpired processing lease.
	ErrLockHeld = errors.New("processing lock held")
	// ErrLeaseLost is returned when a write carries a lease token that is no longer current.
	ErrLeaseLost = errors.New("processing lease lost")
	// ErrTerminal is returned when a mutation targets a completed or failed job.
	ErrTerminal         = errors.New("job is terminal")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrProviderFailure  = errors.New("provider failure")
	ErrMissingAPIKey    = errors.New("api key is required")
	ErrObjectExpired    = errors.New("object expired")
	ErrInvalidObjectKey = errors.New("invalid object key")
)

// ValidationError reports bad or missing request fields. The job is never created.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field error, keeping the first message per field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// Empty reports whether no field errors were recorded.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// ProviderErrorKind classifies provider failures for retry decisions.
type ProviderErrorKind string

const (
	ProviderRateLimited ProviderErrorKind = "rate_limited"
	ProviderAuthInvalid ProviderErrorKind = "auth_invalid"
	ProviderTimeout     ProviderErrorKind = "timeout"
	ProviderMalformed   ProviderErrorKind = "malformed"
	ProviderUnavailable ProviderErrorKind = "unavailable"
)

// ProviderError is a transient provider failure. It never escapes the image stage.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Status > 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrProviderFailure
}

// Is lets errors.Is(err, ErrProviderFailure) match every provider error.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderFailure
}

// NewProviderError builds a ProviderError.
func NewProviderError(provider string, kind ProviderErrorKind, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Status: status, Err: err}
}

// ProviderErrorKindOf extracts the kind, defaulting to unavailable.
func ProviderErrorKindOf(err error) ProviderErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ProviderUnavailable
}

// PersistenceError wraps a durable or cache store failure. Fatal to the current stage.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// AssetError wraps a rehosting failure. Never fatal.
type AssetError struct {
	Key string
	Err error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset %s: %v", e.Key, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }
