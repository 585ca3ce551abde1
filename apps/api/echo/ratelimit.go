package echoapi

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

var limiterNow = time.Now // mockable

// IPRateLimiter keeps one token bucket per client IP.
// The client IP is echo's RealIP, so X-Forwarded-For only counts behind a trusted proxy.
type IPRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*limiterEntry
	rate       rate.Limit
	burst      int
	cleanup    time.Duration
	maxEntries int
	stop       chan struct{}
	once       sync.Once
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewIPRateLimiter allows r requests per second per IP, with bursts of b.
// Entries idle for longer than cleanup are dropped; cleanup defaults to 5 minutes.
func NewIPRateLimiter(r rate.Limit, b int, cleanup time.Duration) *IPRateLimiter {
	if r <= 0 {
		r = rate.Limit(0.2)
	}
	if b <= 0 {
		b = 5
	}
	if cleanup <= 0 {
		cleanup = 5 * time.Minute
	}
	l := &IPRateLimiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       r,
		burst:      b,
		cleanup:    cleanup,
		maxEntries: 10000,
		stop:       make(chan struct{}),
	}
	go l.cleanupStale()
	return l
}

// Allow takes one token from the bucket of ip.
func (l *IPRateLimiter) Allow(ip string) bool {
	return l.getLimiter(ip).AllowN(limiterNow(), 1)
}

func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := limiterNow()
	entry, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= l.maxEntries {
			l.evictOldest()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

// evictOldest must be called with l.mu held.
func (l *IPRateLimiter) evictOldest() {
	var (
		oldestIP   string
		oldestTime time.Time
	)
	for ip, entry := range l.limiters {
		if oldestIP == "" || entry.lastAccess.Before(oldestTime) {
			oldestIP, oldestTime = ip, entry.lastAccess
		}
	}
	delete(l.limiters, oldestIP)
}

// Sweep drops the entries idle for longer than the cleanup period.
func (l *IPRateLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := limiterNow()
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastAccess) > l.cleanup {
			delete(l.limiters, ip)
		}
	}
}

// Len returns the number of tracked IPs.
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *IPRateLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *IPRateLimiter) cleanupStale() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stop:
			return
		}
	}
}

// Middleware answers 429 once the client IP ran out of tokens.
func (l *IPRateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !l.Allow(ctx.RealIP()) {
				ctx.Response().Header().Set("Retry-After", "60")
				return errTooManyLogins
			}
			return next(ctx)
		}
	}
}
