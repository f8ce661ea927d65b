package gateway

import (
	"sync"
	"time"
)

// Per-event rate caps, tokens per second over a one-second window.
// Resize overflow is dropped silently instead of producing an error.
var rateLimits = map[string]rateRule{
	EvTerminalInput:  {perSecond: 1000},
	EvTerminalResize: {perSecond: 10, silentDrop: true},
	EvSSHInput:       {perSecond: 1000},
	EvSSHResize:      {perSecond: 10, silentDrop: true},
	"browser:input":  {perSecond: 100},
}

type rateRule struct {
	perSecond  int
	silentDrop bool
}

// tokenBucket is a per-client, per-event token bucket with a one-second
// refill window.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rate int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(rate),
		maxTokens:  float64(rate),
		refillRate: float64(rate),
		lastRefill: time.Now(),
	}
}

// allow consumes a token if one is available.
func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now

	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
