// Package resilience classifies failures from the external calls the
// pipeline makes (feed fetches, page scrapes, LLM requests) and builds
// retry pacing and per-host blocking on top of that classification.
package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// FailureClass says why an external call failed and whether trying again
// can help.
type FailureClass int

const (
	// FailureUnknown is an unclassified error. Treated as not retryable.
	FailureUnknown FailureClass = iota
	// FailureNetwork covers timeouts, resets, and DNS trouble on the way
	// to a feed host or the LLM endpoint.
	FailureNetwork
	// FailureThrottled is an explicit slow-down (HTTP 429). Retryable
	// after the host rate has been reduced.
	FailureThrottled
	// FailureUpstream is a 5xx from the remote side.
	FailureUpstream
	// FailureRejected is a non-429 4xx: the request itself is bad and a
	// retry gets the same answer.
	FailureRejected
)

func (c FailureClass) String() string {
	switch c {
	case FailureNetwork:
		return "network"
	case FailureThrottled:
		return "throttled"
	case FailureUpstream:
		return "upstream"
	case FailureRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Retryable reports whether a call failing with this class is worth
// repeating.
func (c FailureClass) Retryable() bool {
	switch c {
	case FailureNetwork, FailureThrottled, FailureUpstream:
		return true
	default:
		return false
	}
}

// CallError carries the failure class, and the HTTP status when there is
// one, for a failed fetch or LLM call.
type CallError struct {
	Class  FailureClass
	Status int
	Err    error
}

func (e *CallError) Error() string { return e.Err.Error() }

func (e *CallError) Unwrap() error { return e.Err }

// Fail wraps err with an explicit failure class.
func Fail(class FailureClass, err error) *CallError {
	return &CallError{Class: class, Err: err}
}

// FailStatus wraps err with the class implied by an HTTP status.
func FailStatus(status int, err error) *CallError {
	return &CallError{Class: ClassOfStatus(status), Status: status, Err: err}
}

// ClassOfStatus maps an HTTP response status to a failure class.
func ClassOfStatus(status int) FailureClass {
	switch {
	case status == http.StatusTooManyRequests:
		return FailureThrottled
	case status == http.StatusRequestTimeout:
		return FailureNetwork
	case status >= 500:
		return FailureUpstream
	case status >= 400:
		return FailureRejected
	default:
		return FailureUnknown
	}
}

// networkSignatures are substrings of wrapped transport errors that the
// net and http packages do not expose as typed values.
var networkSignatures = []string{
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// ClassOf assigns the most specific class it can to an error chain: an
// explicit CallError wins, then typed net-level signals, then the message
// signatures transport errors are wrapped in.
func ClassOf(err error) FailureClass {
	if err == nil {
		return FailureUnknown
	}

	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Class
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureNetwork
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return FailureNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range networkSignatures {
		if strings.Contains(msg, sig) {
			return FailureNetwork
		}
	}
	return FailureUnknown
}

// Retryable reports whether the error's failure class warrants another
// attempt.
func Retryable(err error) bool {
	return ClassOf(err).Retryable()
}
