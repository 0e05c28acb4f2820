package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies provider failures. Retry and fallback decisions key off
// the kind, never off error strings.
type Kind string

const (
	KindNetwork     Kind = "network"      // transport failures
	KindTimeout     Kind = "timeout"      // request exceeded its deadline
	KindRateLimited Kind = "rate_limited" // provider throttled us
	KindPlanLimited Kind = "plan_limited" // endpoint needs a higher subscription tier
	KindAuth        Kind = "auth"         // bad or expired credentials
	KindNotFound    Kind = "not_found"    // symbol unknown to the provider
	KindParse       Kind = "parse"        // response did not match the expected shape
	KindUpstream5xx Kind = "upstream_5xx" // provider returned a 5xx status
	KindUnavailable Kind = "unavailable"  // provider declared itself down in-band
	KindUnsupported Kind = "unsupported"  // capability not offered
)

// Error is the typed provider error. It carries the provider name, the
// operation, and the failure kind alongside the wrapped cause.
type Error struct {
	Provider string
	Op       string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps a cause with provider, operation, and kind.
func NewError(provider, op string, kind Kind, err error) *Error {
	return &Error{Provider: provider, Op: op, Kind: kind, Err: err}
}

// Unsupported builds the error returned for capabilities a provider does
// not offer.
func Unsupported(provider, op string) *Error {
	return &Error{Provider: provider, Op: op, Kind: KindUnsupported}
}

// KindOf extracts the failure kind from an error chain.
// Errors that never passed through a provider default to KindNetwork.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindNetwork
}

// Retryable reports whether a retry of the same provider can help.
// Auth, plan, not-found, parse, and unsupported failures are deterministic.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindRateLimited, KindUpstream5xx, KindUnavailable:
		return true
	default:
		return false
	}
}

// KindFromStatus maps an HTTP status code to a failure kind.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindUpstream5xx
	default:
		return KindNetwork
	}
}

// KindFromTransport classifies a failed HTTP round trip: exceeded
// deadlines and net-level timeouts are timeouts, the rest is network.
func KindFromTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
