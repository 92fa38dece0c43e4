// Package ratelimit provides per-key rate limiting for OAuth connect initiations.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the rate limiting configuration.
type Config struct {
	RPS             float64       // Sustained initiations per second per key
	Burst           int           // Burst size per key
	CleanupInterval time.Duration // How often to clean up idle limiters
}

// DefaultConfig provides sensible defaults. Connect initiations are human
// actions; one per second with a small burst covers retries without letting
// a stuck client hammer provider discovery and registration endpoints.
var DefaultConfig = Config{
	RPS:             1,
	Burst:           5,
	CleanupInterval: time.Hour,
}

// limiterEntry holds a rate limiter and tracks its last usage.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// RateLimiter manages per-key rate limiting.
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.RWMutex
	config   Config

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRateLimiter creates a new rate limiter with the given configuration.
// It starts a background goroutine for cleanup.
func NewRateLimiter(config Config) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		config:   config,
		stopCh:   make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.cleanupLoop()

	return rl
}

// Allow checks if a request for the given key is allowed.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.GetLimiter(key).Allow()
}

// GetLimiter returns the rate limiter for the given key, creating one if necessary.
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	entry, exists := rl.limiters[key]
	if exists {
		entry.lastUsed = time.Now()
		rl.mu.RUnlock()
		return entry.limiter
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists = rl.limiters[key]
	if exists {
		entry.lastUsed = time.Now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(rl.config.RPS), rl.config.Burst)
	rl.limiters[key] = &limiterEntry{
		limiter:  limiter,
		lastUsed: time.Now(),
	}

	return limiter
}

// Cleanup removes rate limiters that have been idle for longer than the
// cleanup interval. Called periodically by the background goroutine.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.config.CleanupInterval)
	for key, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimiter) cleanupLoop() {
	defer rl.wg.Done()

	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine and waits for it to finish.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
	rl.wg.Wait()
}

// Len returns the number of active rate limiters.
// This is primarily useful for testing and monitoring.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}
