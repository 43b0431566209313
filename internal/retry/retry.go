// Package retry implements the exponential-backoff retry policy (spec C7)
// applied around Extract/Load API calls and Rollback deletions, grounded
// on the teacher's connectWithRetry backoff loop and the retriable-status/
// exception classification ztoq's retry configuration describes.
package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"time"

	"github.com/heymumford/ztoq-migrate/internal/observability"
)

// Classifier reports whether an error belongs to a class of errors this
// policy treats as transient (and thus retriable) independent of any HTTP
// status code.
type Classifier func(err error) bool

// StatusError is implemented by client errors that carry an HTTP-like
// status code, letting the policy classify 429/5xx without depending on
// net/http.
type StatusError interface {
	StatusCode() int
}

// Policy is the exponential-backoff retry policy.
type Policy struct {
	MaxRetries         int
	InitialDelay       time.Duration
	BackoffFactor      float64
	RetryStatusCodes   map[int]struct{}
	RetryClassifiers   []Classifier
}

// Default returns the spec's default policy: 3 retries, 1s initial delay,
// 2x backoff, retrying 429/500/502/503/504 and timeout/connection-class
// errors.
func Default() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
		RetryStatusCodes: map[int]struct{}{
			429: {}, 500: {}, 502: {}, 503: {}, 504: {},
		},
		RetryClassifiers: []Classifier{IsTimeout, IsConnectionError},
	}
}

// WithClassifier returns a copy of p with an additional user-supplied
// retry classifier appended.
func (p Policy) WithClassifier(c Classifier) Policy {
	p.RetryClassifiers = append(append([]Classifier(nil), p.RetryClassifiers...), c)
	return p
}

// ShouldRetry returns true iff attempt < MaxRetries and either the status
// code is in RetryStatusCodes or err matches any configured classifier.
func (p Policy) ShouldRetry(attempt int, err error, statusCode int) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	if _, ok := p.RetryStatusCodes[statusCode]; ok {
		return true
	}
	if err == nil {
		return false
	}
	var se StatusError
	if errors.As(err, &se) {
		if _, ok := p.RetryStatusCodes[se.StatusCode()]; ok {
			return true
		}
	}
	for _, c := range p.RetryClassifiers {
		if c(err) {
			return true
		}
	}
	return false
}

// Delay returns initial_delay * backoff_factor^attempt.
func (p Policy) Delay(attempt int) time.Duration {
	factor := math.Pow(p.BackoffFactor, float64(attempt))
	return time.Duration(float64(p.InitialDelay) * factor)
}

// Decider adapts Policy to workqueue.RetryDecider: retry decisions made
// purely from the error (no status code available at that layer).
func (p Policy) Decider() func(attempt int, err error) (bool, time.Duration) {
	return func(attempt int, err error) (bool, time.Duration) {
		retry := p.ShouldRetry(attempt, err, 0)
		return retry, p.Delay(attempt)
	}
}

// Do runs fn, retrying per the policy until it succeeds, attempts are
// exhausted, or ctx is cancelled. statusOf extracts an HTTP-like status
// code from an error for classification; pass nil if the call site has no
// status codes to inspect.
func Do(ctx context.Context, p Policy, statusOf func(error) int, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 0 {
				observability.RetryAttempts.WithLabelValues("api_call", "succeeded").Inc()
			}
			return nil
		}
		status := 0
		if statusOf != nil {
			status = statusOf(lastErr)
		}
		if !p.ShouldRetry(attempt, lastErr, status) {
			observability.RetryAttempts.WithLabelValues("api_call", "exhausted").Inc()
			return lastErr
		}
		observability.RetryAttempts.WithLabelValues("api_call", "retried").Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
}

// IsTimeout classifies context and net timeout errors as transient.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// IsConnectionError classifies network operation errors (*net.OpError,
// e.g. connection refused or reset) as transient; a bare io.EOF is not
// matched.
func IsConnectionError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
