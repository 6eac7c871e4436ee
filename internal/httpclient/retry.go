package httpclient

import (
	"context"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy describes transport-level retries for transient failures.
// It is independent of the cycle penalty delay.
type RetryPolicy struct {
	MaxRetries  int           // additional attempts after the first
	BackoffBase time.Duration // wait before retry n is BackoffBase * 2^(n-1)
	BackoffMax  time.Duration // upper bound on a single wait
	Statuses    []int
	Methods     []string
}

const (
	// DefaultBackoffMax caps a single retry wait.
	DefaultBackoffMax = 120 * time.Second
	// MaxRetriesLimit bounds MaxRetries so the client timeout stays finite.
	MaxRetriesLimit = 10
)

var (
	DefaultRetryStatuses = []int{
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
	DefaultRetryMethods = []string{
		http.MethodHead, http.MethodGet, http.MethodPut, http.MethodPost,
		http.MethodDelete, http.MethodOptions, http.MethodTrace,
	}
)

// DefaultRetryPolicy retries the standard transient statuses with a 1s base.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:  maxRetries,
		BackoffBase: time.Second,
		BackoffMax:  DefaultBackoffMax,
		Statuses:    slices.Clone(DefaultRetryStatuses),
		Methods:     slices.Clone(DefaultRetryMethods),
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.MaxRetries > MaxRetriesLimit {
		p.MaxRetries = MaxRetriesLimit
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = time.Second
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = DefaultBackoffMax
	}
	if p.Statuses == nil {
		p.Statuses = DefaultRetryStatuses
	}
	if p.Methods == nil {
		p.Methods = DefaultRetryMethods
	}
	return p
}

// Backoff returns the wait before retry n (1-based), capped at BackoffMax.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	limit := p.BackoffMax
	if limit <= 0 {
		limit = DefaultBackoffMax
	}
	d := p.BackoffBase
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < n; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}

// TotalBackoff is the sum of every backoff the policy can incur.
func (p RetryPolicy) TotalBackoff() time.Duration {
	var total time.Duration
	for n := 1; n <= p.MaxRetries; n++ {
		total += p.Backoff(n)
	}
	return total
}

func (p RetryPolicy) retriesMethod(method string) bool {
	for _, m := range p.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (p RetryPolicy) retriesStatus(code int) bool {
	return slices.Contains(p.Statuses, code)
}

type retryTransport struct {
	rt     http.RoundTripper
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
	logger logrus.FieldLogger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.policy.MaxRetries == 0 || !t.policy.retriesMethod(req.Method) || !replayable(req) {
		return t.rt.RoundTrip(req)
	}

	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		r := req
		if attempt > 0 {
			r = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				r.Body = body
			}
		}

		resp, err := t.rt.RoundTrip(r)
		if attempt >= t.policy.MaxRetries || ctx.Err() != nil {
			return resp, err
		}

		var reason string
		switch {
		case err != nil:
			reason = err.Error()
		case t.policy.retriesStatus(resp.StatusCode):
			reason = resp.Status
		default:
			return resp, nil
		}

		if resp != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			resp.Body.Close()
		}

		wait := t.policy.Backoff(attempt + 1)
		if t.logger != nil {
			t.logger.WithFields(logrus.Fields{
				"method":  req.Method,
				"url":     req.URL.Redacted(),
				"attempt": attempt + 1,
				"backoff": wait,
			}).Debugf("retrying request: %s", reason)
		}
		if err := t.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// replayable reports whether the request body can be sent again.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}
