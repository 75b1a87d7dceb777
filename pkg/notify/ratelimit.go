package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited applies a token bucket per destination in front of another sink
// and evicts buckets that have been idle for a while.
type RateLimited struct {
	next    Sink
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*bucket
	hits  uint64
	now   func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimited wraps next. A non-positive rate or burst disables limiting.
func NewRateLimited(next Sink, perHour float64, burst int) Sink {
	if perHour <= 0 || burst <= 0 {
		return next
	}
	return &RateLimited{
		next:    next,
		limit:   rate.Limit(perHour / 3600),
		burst:   burst,
		idleTTL: time.Hour,
		byKey:   make(map[string]*bucket),
		now:     time.Now,
	}
}

// Notify forwards n when its destination still has budget.
func (r *RateLimited) Notify(ctx context.Context, n Notification) error {
	if !r.allow(n.Destination) {
		return ErrRateLimited
	}
	return r.next.Notify(ctx, n)
}

func (r *RateLimited) allow(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byKey[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.byKey[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	r.hits++
	if r.hits%256 == 0 {
		cutoff := now.Add(-r.idleTTL)
		for k, v := range r.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(r.byKey, k)
			}
		}
	}
	return allowed
}
