// Package resilience provides the error taxonomy, classifier, retry policy,
// and per-source circuit breakers that wrap every source adapter call.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind classifies a source failure. Every kind carries a fixed policy:
// severity, retryability, base delay, and retry budget.
type Kind string

const (
	// KindNetwork covers connection refused/reset and other transport errors.
	KindNetwork Kind = "network"

	// KindRateLimit means the source signaled throttling (HTTP 429).
	KindRateLimit Kind = "rate_limit"

	// KindTimeout means the call exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindSourceUnavailable covers 502/503/504-class outages.
	KindSourceUnavailable Kind = "source_unavailable"

	// KindParsing means the response structure was malformed.
	KindParsing Kind = "parsing"

	// KindValidation means fetched data failed sanity checks.
	KindValidation Kind = "validation"

	// KindAuthentication means credentials or source configuration are wrong.
	KindAuthentication Kind = "authentication"

	// KindUnknown is the fallback for errors outside the taxonomy.
	KindUnknown Kind = "unknown"
)

// Severity grades a failure for logging and alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Classification is the pure derived handling policy for an error. It is
// never persisted; identical errors always classify identically.
type Classification struct {
	Kind       Kind
	Severity   Severity
	Retryable  bool
	MustRetry  bool
	BaseDelay  time.Duration
	MaxRetries int
}

// policies is the fixed per-kind handling table.
var policies = map[Kind]Classification{
	KindNetwork: {
		Kind: KindNetwork, Severity: SeverityWarning,
		Retryable: true, BaseDelay: 2 * time.Second, MaxRetries: 5,
	},
	KindRateLimit: {
		Kind: KindRateLimit, Severity: SeverityWarning,
		Retryable: true, MustRetry: true, BaseDelay: 10 * time.Second, MaxRetries: 3,
	},
	KindTimeout: {
		Kind: KindTimeout, Severity: SeverityWarning,
		Retryable: true, BaseDelay: 3 * time.Second, MaxRetries: 4,
	},
	KindSourceUnavailable: {
		Kind: KindSourceUnavailable, Severity: SeverityWarning,
		Retryable: true, MustRetry: true, BaseDelay: 5 * time.Second, MaxRetries: 3,
	},
	KindParsing: {
		Kind: KindParsing, Severity: SeverityWarning,
	},
	KindValidation: {
		Kind: KindValidation, Severity: SeverityWarning,
	},
	KindAuthentication: {
		Kind: KindAuthentication, Severity: SeverityCritical,
	},
	KindUnknown: {
		Kind: KindUnknown, Severity: SeverityCritical,
	},
}

// SourceError is a classified failure from one source.
type SourceError struct {
	Kind       Kind
	Source     string
	StatusCode int
	Msg        string
	Err        error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Source, e.Kind, e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Source, e.Kind, e.Msg)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError builds a classified error for a source.
func NewSourceError(kind Kind, source, msg string, err error) *SourceError {
	return &SourceError{Kind: kind, Source: source, Msg: msg, Err: err}
}

// FromHTTPStatus maps a non-2xx status to a classified error.
//
// 429 signals throttling, 502/503/504 (and 404 on a search endpoint that is
// known to exist) signal an unavailable source, 401/403 signal an
// authentication problem, remaining 4xx are treated as validation failures
// of the request we built, and other 5xx as network-class faults.
func FromHTTPStatus(source string, status int) *SourceError {
	e := &SourceError{Source: source, StatusCode: status, Msg: http.StatusText(status)}

	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
	case status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout,
		status == http.StatusNotFound:
		e.Kind = KindSourceUnavailable
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		e.Kind = KindAuthentication
	case status >= 400 && status < 500:
		e.Kind = KindValidation
	default:
		e.Kind = KindNetwork
	}
	return e
}

// Classify derives the handling policy for an error. It is deterministic:
// equivalent errors always produce the same classification.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var srcErr *SourceError
	if errors.As(err, &srcErr) {
		if p, ok := policies[srcErr.Kind]; ok {
			return p
		}
		return policies[KindUnknown]
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return policies[KindTimeout]
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return policies[KindTimeout]
		}
		return policies[KindNetwork]
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return policies[KindNetwork]
	}

	return policies[KindUnknown]
}
