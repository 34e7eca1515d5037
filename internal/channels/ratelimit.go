package channels

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter to prevent API throttling.
// It allows a burst of operations up to the bucket capacity, then refills at a steady rate.
type RateLimiter struct {
	// rate is the number of tokens added per second
	rate float64

	// capacity is the maximum number of tokens the bucket can hold
	capacity int

	// tokens is the current number of available tokens
	tokens float64

	// lastRefill is the timestamp of the last token refill
	lastRefill time.Time

	mu sync.Mutex
}

// NewRateLimiter creates a new rate limiter with the specified rate and capacity.
// rate: tokens per second (e.g., 10 = 10 operations per second)
// capacity: maximum burst size (e.g., 20 = allow up to 20 operations at once)
func NewRateLimiter(rate float64, capacity int) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		capacity:   capacity,
		tokens:     float64(capacity),
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := r.reserve()
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow returns true if a token is available, consuming it in the process.
func (r *RateLimiter) Allow() bool {
	return r.reserve() == 0
}

// reserve consumes a token and returns 0, or returns how long until one
// is available without consuming anything.
func (r *RateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return 0
	}
	tokensNeeded := 1 - r.tokens
	return time.Duration(tokensNeeded / r.rate * float64(time.Second))
}

// refill adds tokens based on elapsed time since last refill.
// Must be called with lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.rate
	if r.tokens > float64(r.capacity) {
		r.tokens = float64(r.capacity)
	}
	r.lastRefill = now
}

// ChatRateLimiter combines a global bucket with one bucket per chat,
// matching Telegram's limits (about 30 messages per second overall and
// one per second in a single chat, with short bursts tolerated).
type ChatRateLimiter struct {
	global *RateLimiter

	perChatRate  float64
	perChatBurst int

	mu    sync.Mutex
	chats map[int64]*RateLimiter
}

// NewChatRateLimiter creates the limiter. A perChatRate of zero disables
// per-chat limiting.
func NewChatRateLimiter(rate float64, burst int, perChatRate float64, perChatBurst int) *ChatRateLimiter {
	return &ChatRateLimiter{
		global:       NewRateLimiter(rate, burst),
		perChatRate:  perChatRate,
		perChatBurst: perChatBurst,
		chats:        make(map[int64]*RateLimiter),
	}
}

// Wait blocks until both the chat's bucket and the global bucket admit one
// operation.
func (m *ChatRateLimiter) Wait(ctx context.Context, chatID int64) error {
	if limiter := m.chat(chatID); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return m.global.Wait(ctx)
}

func (m *ChatRateLimiter) chat(chatID int64) *RateLimiter {
	if m.perChatRate <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, ok := m.chats[chatID]
	if !ok {
		burst := m.perChatBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = NewRateLimiter(m.perChatRate, burst)
		m.chats[chatID] = limiter
	}
	return limiter
}
