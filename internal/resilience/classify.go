package resilience

import (
	"context"
	"errors"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Classification reasons reported alongside the retry verdict
const (
	ReasonRateLimited = "rate_limited"
	ReasonServerError = "server_error"
	ReasonTimeout     = "timeout"
	ReasonNetwork     = "network"
	ReasonCanceled    = "canceled"
	ReasonCircuitOpen = "circuit_open"
	ReasonPermanent   = "permanent"
)

// Class is the verdict of the error classifier
type Class struct {
	Retriable bool
	Reason    string
}

// Classifier decides whether a failed call is worth retrying
type Classifier func(error) Class

// transient network conditions matched by message when no typed error is
// available
var retriablePatterns = []string{
	"rate limit",
	"too many requests",
	"quota",
	"overloaded",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"service unavailable",
	"bad gateway",
}

// Classify is the default classifier. Rate limits, server errors, timeouts
// and transient network failures are retriable; cancellation, circuit-open
// rejections and anything marked Permanent are not.
func Classify(err error) Class {
	if err == nil {
		return Class{}
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return Class{Retriable: false, Reason: ReasonPermanent}
	}

	if errors.Is(err, ErrCircuitOpen) {
		return Class{Retriable: false, Reason: ReasonCircuitOpen}
	}

	if errors.Is(err, context.Canceled) {
		return Class{Retriable: false, Reason: ReasonCanceled}
	}

	// Deadlines come from per-attempt timeouts, so the next attempt may
	// still succeed.
	if errors.Is(err, context.DeadlineExceeded) {
		return Class{Retriable: true, Reason: ReasonTimeout}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Class{Retriable: true, Reason: ReasonTimeout}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retriablePatterns {
		if strings.Contains(msg, pattern) {
			return Class{Retriable: true, Reason: ReasonNetwork}
		}
	}

	return Class{Retriable: false, Reason: ReasonPermanent}
}

// classifyStatus applies the HTTP status taxonomy: 408, 429 and 5xx are
// retriable, other statuses are request errors that will not improve.
func classifyStatus(status int) Class {
	switch {
	case status == 429:
		return Class{Retriable: true, Reason: ReasonRateLimited}
	case status == 408:
		return Class{Retriable: true, Reason: ReasonTimeout}
	case status >= 500:
		return Class{Retriable: true, Reason: ReasonServerError}
	default:
		return Class{Retriable: false, Reason: ReasonPermanent}
	}
}

// Permanent marks an error as non-retriable regardless of how it would
// otherwise classify. Used at parse boundaries where a retry would replay
// the same malformed payload.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}
