// Package llm provides embedding and generation clients over external model
// providers, with a shared retry policy and provider failover.
package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures for the retry and failover policy.
// Classification is enumerated from transport status codes, never derived
// from error message text.
type ErrorKind string

const (
	// ErrorKindConfig covers missing keys and dimension mismatches. Fatal,
	// never retried.
	ErrorKindConfig ErrorKind = "config"
	// ErrorKindRateLimited covers HTTP 429.
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindOverloaded covers HTTP 503 and provider-reported overload.
	ErrorKindOverloaded ErrorKind = "overloaded"
	// ErrorKindTransient covers HTTP 500 and network-level failures.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanent covers other 4xx and malformed payloads.
	ErrorKindPermanent ErrorKind = "permanent"
)

// ProviderError wraps a failed provider call with its classification.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a ProviderError with an explicit kind.
func NewProviderError(provider string, kind ErrorKind, statusCode int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: statusCode, Err: err}
}

var (
	// ErrNoProvider is returned when no generation provider is configured.
	ErrNoProvider = errors.New("no generation provider configured")
	// ErrEmptyText is returned when text to embed is empty.
	ErrEmptyText = errors.New("text cannot be empty")
)

// ClassifyStatus maps an HTTP status code to an ErrorKind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorKindRateLimited
	case status == http.StatusServiceUnavailable:
		return ErrorKindOverloaded
	case status == http.StatusInternalServerError:
		return ErrorKindTransient
	case status >= 400 && status < 500:
		return ErrorKindPermanent
	case status >= 500:
		return ErrorKindTransient
	}
	return ErrorKindPermanent
}

// KindOf returns the classification of err, or ErrorKindTransient for plain
// errors (treated as network-level failures).
func KindOf(err error) ErrorKind {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ErrorKindTransient
}

// IsRetryable reports whether err signals a transient upstream failure.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ErrorKindRateLimited, ErrorKindOverloaded, ErrorKindTransient:
		return true
	}
	return false
}

// ShouldFailover reports whether err warrants switching generation
// providers. Only explicit overload and rate-limit signals do; transient
// network faults stay with the primary.
func ShouldFailover(err error) bool {
	switch KindOf(err) {
	case ErrorKindRateLimited, ErrorKindOverloaded:
		return true
	}
	return false
}
