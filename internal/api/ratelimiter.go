package api

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per remote IP. Buckets idle for
// longer than idleTTL are purged once the table grows past purgeThreshold.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	r       rate.Limit
	b       int
	idleTTL time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const purgeThreshold = 1000

// NewIPRateLimiter allows perSecond requests per second per IP with the given burst.
func NewIPRateLimiter(perSecond float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		r:        rate.Limit(perSecond),
		b:        burst,
		idleTTL:  10 * time.Minute,
	}
}

// Allow reports whether a request from remoteAddr (host:port) may proceed.
func (rl *IPRateLimiter) Allow(remoteAddr string) bool {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.r, rl.b)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()

	if len(rl.visitors) > purgeThreshold {
		rl.purge()
	}

	return v.limiter.Allow()
}

func (rl *IPRateLimiter) purge() {
	cutoff := time.Now().Add(-rl.idleTTL)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}
