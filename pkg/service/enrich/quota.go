package enrich

import (
	"sync"
	"sync/atomic"
	"time"
)

// TokenQuota tracks the process-wide daily token spend for the LLM
// provider. It is an explicit owned component rather than module-level
// state so tests can reset it deterministically and deployments can
// scope it.
//
// TryConsume uses a CAS loop so concurrent enrichment calls cannot
// overspend the quota.
type TokenQuota struct {
	limit int64
	used  atomic.Int64

	mu          sync.Mutex
	windowStart time.Time
	window      time.Duration
}

// NewTokenQuota creates a daily token quota tracker. A limit of 0
// disables the quota.
func NewTokenQuota(limit int64, now time.Time) *TokenQuota {
	return &TokenQuota{
		limit:       limit,
		windowStart: now,
		window:      24 * time.Hour,
	}
}

// TryConsume reserves n tokens against the quota. It returns false if
// the reservation would exceed the daily limit.
func (q *TokenQuota) TryConsume(n int64, now time.Time) bool {
	if q.limit <= 0 {
		return true
	}

	q.resetIfExpired(now)

	for {
		current := q.used.Load()
		if current+n > q.limit {
			return false
		}
		if q.used.CompareAndSwap(current, current+n) {
			return true
		}
	}
}

// Refund returns unused tokens from an over-estimated reservation
func (q *TokenQuota) Refund(n int64) {
	if q.limit <= 0 || n <= 0 {
		return
	}
	q.used.Add(-n)
}

// Used returns the tokens consumed in the current window
func (q *TokenQuota) Used() int64 {
	return q.used.Load()
}

func (q *TokenQuota) resetIfExpired(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if now.Sub(q.windowStart) >= q.window {
		q.windowStart = now
		q.used.Store(0)
	}
}
