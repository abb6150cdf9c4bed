// Package ratelimiter provides token-bucket request rate limiting for the
// download endpoint.
//
// It wraps golang.org/x/time/rate: tokens accrue at the configured sustained
// rate and the burst size bounds how many requests can be served at once
// before clients start seeing rejections.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a sustained request rate with burst capacity.
//
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained with the
// given burst capacity.
//
// A zero requestsPerSecond disables limiting (every request is allowed).
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a request may proceed, consuming a token if so.
// It never blocks; callers reject the request when it returns false.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the number of tokens currently available. Monitoring only;
// the value is stale as soon as it is read.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
