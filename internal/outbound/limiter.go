package outbound

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onurcolak/messaging-bridge/internal/domain"
)

// Limiter holds one token bucket per account.
type Limiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
	burst    int
	maxWait  time.Duration
}

func NewLimiter(perMinute, burst int, maxWait time.Duration) *Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}

	return &Limiter{
		limiters: make(map[int64]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		maxWait:  maxWait,
	}
}

func (l *Limiter) forAccount(accountID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[accountID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[accountID] = limiter
	}
	return limiter
}

// Wait takes one token for accountID, blocking at most maxWait. It fails fast
// with domain.ErrThrottled when no token can be had within that bound, and
// with ctx's error when the caller gives up first.
func (l *Limiter) Wait(ctx context.Context, accountID int64) error {
	limiter := l.forAccount(accountID)

	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	if err := limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("account %d: %w", accountID, domain.ErrThrottled)
	}

	return nil
}
