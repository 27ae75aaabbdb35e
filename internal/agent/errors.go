package agent

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrBackendUnavailable is returned when no model backend is configured, for
// example because the provider has no API key. It is never retried.
var ErrBackendUnavailable = errors.New("agent: model backend unavailable")

// ErrEmptyMessage is returned by Converse for a blank user message.
var ErrEmptyMessage = errors.New("agent: empty message")

// Category is the user-facing class of a model backend failure.
type Category int

const (
	CategoryGeneric Category = iota
	CategoryAuth
	CategoryRateLimit
	CategoryNetwork
	CategoryTimeout
	CategoryUnavailable
)

// String returns the category's name as used in logs and metrics.
func (c Category) String() string {
	switch c {
	case CategoryAuth:
		return "auth"
	case CategoryRateLimit:
		return "rate_limit"
	case CategoryNetwork:
		return "network"
	case CategoryTimeout:
		return "timeout"
	case CategoryUnavailable:
		return "unavailable"
	default:
		return "generic"
	}
}

// UserMessage returns the fixed text shown to the user for the category.
func (c Category) UserMessage() string {
	switch c {
	case CategoryAuth:
		return "The model provider rejected the credentials. Check the API key in the configuration."
	case CategoryRateLimit:
		return "The model provider is rate limiting requests right now. Please wait a moment and try again."
	case CategoryNetwork:
		return "I could not reach the model provider. Check the network connection and try again."
	case CategoryTimeout:
		return "The model provider took too long to respond. Please try again."
	case CategoryUnavailable:
		return "No model backend is configured. Add a provider and API key to the configuration."
	default:
		return "Something went wrong while talking to the model. Please try again."
	}
}

// TransportError is a classified failure of a model call.
type TransportError struct {
	Category Category
	Err      error
}

// Error implements error.
func (e *TransportError) Error() string {
	return "agent: model backend " + e.Category.String() + " error: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// classified wraps err in a [TransportError] unless it already is one.
func classified(err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{Category: Classify(err), Err: err}
}

// Classify maps err to a [Category]. Typed errors are checked first, then the
// error text is matched, since most provider SDKs only expose the HTTP status
// in the message.
func Classify(err error) Category {
	if err == nil {
		return CategoryGeneric
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return CategoryUnavailable
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "403", "api key", "api_key", "unauthorized", "forbidden", "authentication"):
		return CategoryAuth
	case containsAny(msg, "429", "rate limit", "rate_limit", "ratelimit", "quota", "too many requests"):
		return CategoryRateLimit
	case containsAny(msg, "deadline", "timeout", "timed out"):
		return CategoryTimeout
	case containsAny(msg, "connection", "dial", "no such host", "eof", "network"):
		return CategoryNetwork
	default:
		return CategoryGeneric
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
