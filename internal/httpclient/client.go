// Package httpclient builds the shared HTTP client used for capture and upload.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	// Timeout bounds each attempt's connect, TLS handshake and response headers.
	Timeout         time.Duration
	UserAgent       string
	MaxIdleConns    int
	IdleConnTimeout time.Duration

	Retry RetryPolicy

	// Base replaces the network transport. Used by tests.
	Base   http.RoundTripper
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger logrus.FieldLogger
}

// New returns a reusable HTTP client with transport-level retry.
func New(cfg Config) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	base := cfg.Base
	if base == nil {
		base = &http.Transport{
			Proxy: http.ProxyFromEnvironment,

			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,

			ForceAttemptHTTP2:     true,
			MaxIdleConns:          cfg.MaxIdleConns,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       cfg.IdleConnTimeout,
			TLSHandshakeTimeout:   cfg.Timeout,
			ResponseHeaderTimeout: cfg.Timeout,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	policy := cfg.Retry.withDefaults()

	return &http.Client{
		Transport: roundTripperWithUA{
			rt: &retryTransport{
				rt:     base,
				policy: policy,
				sleep:  sleep,
				logger: cfg.Logger,
			},
			userAgent: cfg.UserAgent,
		},
		// hard safety net covering every attempt plus backoff
		Timeout: cfg.Timeout*time.Duration(policy.MaxRetries+1) + policy.TotalBackoff(),
	}
}

// roundTripperWithUA injects a User-Agent into every request.
type roundTripperWithUA struct {
	rt        http.RoundTripper
	userAgent string
}

func (r roundTripperWithUA) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && r.userAgent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", r.userAgent)
	}
	return r.rt.RoundTrip(req)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
