package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

var (
	// ErrNotConfigured is the configuration error returned when no enabled
	// provider offers the requested capability.
	ErrNotConfigured = errors.New("no provider configured")
	// ErrQuotaExceeded matches provider errors classified as Quota.
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	// ErrTransient matches provider errors classified as Transient.
	ErrTransient = errors.New("transient upstream error")
	// ErrAllProvidersFailed wraps the last error once the chain is exhausted.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// ErrorClass is the outcome of ClassifyError.
type ErrorClass int

const (
	Fatal ErrorClass = iota
	Transient
	Quota
)

func (c ErrorClass) String() string {
	switch c {
	case Quota:
		return "quota"
	case Transient:
		return "transient"
	default:
		return "fatal"
	}
}

// Error is a classified failure of one provider call.
type Error struct {
	Provider string
	Op       string
	Class    ErrorClass
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Provider, e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrQuotaExceeded) and errors.Is(err, ErrTransient)
// match on the class.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrQuotaExceeded:
		return e.Class == Quota
	case ErrTransient:
		return e.Class == Transient
	}
	return false
}

// ChainError is returned once every provider in the chain has failed. It
// matches ErrAllProvidersFailed and, through the last attempt, that
// attempt's class. Earlier attempts are kept in Attempts.
type ChainError struct {
	Op       string
	Attempts []*Error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrAllProvidersFailed, e.last())
}

func (e *ChainError) Unwrap() []error {
	return []error{ErrAllProvidersFailed, e.last()}
}

func (e *ChainError) last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1]
}

// QuotaHit reports whether err, or any provider attempt behind it, was
// classified as Quota.
func QuotaHit(err error) bool {
	var ce *ChainError
	if errors.As(err, &ce) {
		for _, a := range ce.Attempts {
			if a.Class == Quota {
				return true
			}
		}
	}
	return errors.Is(err, ErrQuotaExceeded)
}

// StatusError is returned by HTTP adapters on a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

var (
	quotaSignatures = []string{
		"429",
		"quota",
		"resource_exhausted",
		"rate limit",
		"rate_limit",
		"too many requests",
	}
	transientSignatures = []string{
		"timeout",
		"timed out",
		"502",
		"503",
		"bad gateway",
		"service unavailable",
		"temporarily unavailable",
		"connection reset",
	}
)

// ClassifyError maps an upstream error to Quota, Transient or Fatal.
//
// Typed status codes are checked first (HTTP 429 is Quota, 500/502/503/504
// Transient), then deadlines and network timeouts, then the message is
// matched against the known upstream signatures: "429", "quota",
// "RESOURCE_EXHAUSTED" and "rate limit" for Quota; timeouts and 502/503 text
// for Transient. Anything else is Fatal.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return Fatal
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}

	if class, ok := classifyStatus(err); ok {
		return class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Transient
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range quotaSignatures {
		if strings.Contains(msg, sig) {
			return Quota
		}
	}
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return Transient
		}
	}
	return Fatal
}

func classifyStatus(err error) (ErrorClass, bool) {
	code := 0
	var se *StatusError
	var ge *googleapi.Error
	switch {
	case errors.As(err, &se):
		code = se.Code
	case errors.As(err, &ge):
		code = ge.Code
	default:
		return Fatal, false
	}

	switch code {
	case http.StatusTooManyRequests:
		return Quota, true
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Transient, true
	}
	return Fatal, false
}
