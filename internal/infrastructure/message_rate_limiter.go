package infrastructure

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MessageRateLimiter throttles inbound messages per external identity.
// It guards against floods only; quota is the ledger's job.
type MessageRateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*userBucket
	rate        rate.Limit
	burst       int
	idleTTL     time.Duration
	cleanupTick time.Duration
}

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMessageRateLimiter creates a rate limiter with specified rate and burst
// rate: messages per second allowed
// burst: maximum burst capacity
func NewMessageRateLimiter(perSecond float64, burst int) *MessageRateLimiter {
	return &MessageRateLimiter{
		buckets:     make(map[string]*userBucket),
		rate:        rate.Limit(perSecond),
		burst:       burst,
		idleTTL:     10 * time.Minute,
		cleanupTick: 5 * time.Minute,
	}
}

// Allow checks if user can send a message (consumes 1 token if allowed)
func (rl *MessageRateLimiter) Allow(userID string) bool {
	return rl.bucket(userID, time.Now()).limiter.Allow()
}

// WaitTime returns how long to wait before next message is allowed
func (rl *MessageRateLimiter) WaitTime(userID string) time.Duration {
	rl.mu.Lock()
	b, ok := rl.buckets[userID]
	rl.mu.Unlock()
	if !ok || rl.rate <= 0 {
		return 0
	}

	tokens := b.limiter.TokensAt(time.Now())
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / float64(rl.rate) * float64(time.Second))
}

// Run removes idle buckets until ctx is cancelled
func (rl *MessageRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.cleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

func (rl *MessageRateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for userID, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idleTTL {
			delete(rl.buckets, userID)
		}
	}
}

func (rl *MessageRateLimiter) bucket(userID string, now time.Time) *userBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[userID]
	if !ok {
		b = &userBucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[userID] = b
	}
	b.lastSeen = now
	return b
}

// GetStats reports the limiter settings and how many identities it tracks
func (rl *MessageRateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"active_users": len(rl.buckets),
		"rate":         float64(rl.rate),
		"burst":        rl.burst,
	}
}
