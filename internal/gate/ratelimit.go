package gate

import (
	"sync"
	"time"
)

// RateLimiter throttles repeated failing PAC lookups per source IP using a
// sliding window, to blunt brute-force token guessing. Only failures consume
// budget; successful fetches are never throttled.
type RateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time

	// Max is the number of failures permitted per source IP within Window.
	Max    int
	Window time.Duration

	// CleanupInterval controls how often stale entries are removed.
	// Defaults to 1 minute.
	CleanupInterval time.Duration

	now  func() time.Time
	done chan struct{}
}

// NewRateLimiter creates a sliding-window failure limiter and starts its
// cleanup goroutine.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		failures:        make(map[string][]time.Time),
		Max:             max,
		Window:          window,
		CleanupInterval: time.Minute,
		now:             time.Now,
		done:            make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether the source IP is still under its failure budget.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return len(rl.prune(ip)) < rl.Max
}

// RecordFailure counts one failed lookup against the source IP.
func (rl *RateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.failures[ip] = append(rl.prune(ip), rl.now())
}

// prune drops failures older than the window. Caller holds the lock.
func (rl *RateLimiter) prune(ip string) []time.Time {
	cutoff := rl.now().Add(-rl.Window)
	kept := rl.failures[ip][:0]
	for _, t := range rl.failures[ip] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(rl.failures, ip)
		return nil
	}
	rl.failures[ip] = kept
	return kept
}

// ClientCount returns the number of tracked source IPs.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.failures)
}

// Close stops the background cleanup goroutine.
func (rl *RateLimiter) Close() {
	select {
	case <-rl.done:
	default:
		close(rl.done)
	}
}

func (rl *RateLimiter) cleanup() {
	interval := rl.CleanupInterval
	if interval == 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip := range rl.failures {
				rl.prune(ip)
			}
			rl.mu.Unlock()
		}
	}
}
