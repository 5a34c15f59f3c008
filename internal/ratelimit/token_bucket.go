// Package ratelimit paces how fast the daemon pulls new QUIC connections off
// its listener, wrapping golang.org/x/time/rate the way the teacher's
// bootstrap service paces its per-IP HTTP endpoints.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket wraps a rate.Limiter with the Allow/Wait shape the daemon's
// accept loop expects.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket builds a limiter refilling at ratePerSec tokens/second, up
// to burst tokens banked.
func NewTokenBucket(ratePerSec float64, burst int) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow consumes n tokens if immediately available.
func (tb *TokenBucket) Allow(n int) bool {
	return tb.limiter.AllowN(time.Now(), n)
}

// Wait blocks until n tokens are available or ctx is done, in which case it
// returns ctx.Err(). Used by the daemon's QUIC accept loop to pace how fast
// it pulls new connections off the listener.
func (tb *TokenBucket) Wait(ctx context.Context, n int) error {
	return tb.limiter.WaitN(ctx, n)
}
