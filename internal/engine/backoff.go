package engine

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// ErrorClass buckets a failed provider call for the retry policy.
type ErrorClass string

const (
	ClassRateLimited     ErrorClass = "rate_limited"
	ClassTransientServer ErrorClass = "transient_server"
	ClassNetwork         ErrorClass = "network"
	ClassFatal           ErrorClass = "fatal"
)

var transientMarkers = []string{
	"overloaded",
	"unavailable",
	"timeout",
	"temporarily",
	"try again",
	"aborted",
}

// Classify maps an error from a provider call onto an ErrorClass. Attempt
// timeouts and transport failures are network errors; quota-style 429s are
// rate limited; 5xx and overload-pattern messages are transient; everything
// else, including malformed responses, is fatal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassFatal
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetwork
	}

	var fatalErr *FatalError
	if errors.As(err, &fatalErr) {
		return ClassFatal
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch {
		case provErr.QuotaExhausted():
			return ClassRateLimited
		case provErr.StatusCode == 429:
			return ClassTransientServer
		case provErr.StatusCode == 500, provErr.StatusCode == 502,
			provErr.StatusCode == 503, provErr.StatusCode == 504:
			return ClassTransientServer
		}
		if matchesTransient(provErr.Message) {
			return ClassTransientServer
		}
		return ClassFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassNetwork
	}

	if matchesTransient(err.Error()) {
		return ClassTransientServer
	}
	return ClassFatal
}

func matchesTransient(message string) bool {
	msg := strings.ToLower(message)
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Decision is the backoff controller's instruction for one failed attempt.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Rotate bool
	// Degrade asks the caller to drop the requested quality one tier before
	// retrying.
	Degrade bool
}

// Backoff computes retry decisions from an error class and attempt count.
// The zero value is unusable; construct with NewBackoff.
type Backoff struct {
	Base         time.Duration
	Budget       int
	DegradeAfter int
}

// NewBackoff returns the reference policy: 2s base doubling per attempt,
// five retries, degradation from the second attempt on.
func NewBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Budget: 5, DegradeAfter: 2}
}

// Decide returns the action for a failed attempt (1-based). Rate-limited
// failures ask for an immediate credential rotation instead of a timed delay;
// rotations are uncounted against the budget, so Retry stays true regardless
// of attempt. Fatal failures never retry.
func (b Backoff) Decide(attempt int, class ErrorClass) Decision {
	switch class {
	case ClassFatal:
		return Decision{}
	case ClassRateLimited:
		return Decision{Retry: true, Rotate: true}
	}

	if attempt >= b.Budget {
		return Decision{}
	}

	delay := b.Base << uint(attempt-1)
	return Decision{
		Retry:   true,
		Delay:   delay,
		Degrade: attempt >= b.DegradeAfter,
	}
}
