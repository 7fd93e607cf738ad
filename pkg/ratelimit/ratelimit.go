// Package ratelimit keeps one token bucket per key (user ID or client IP).
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// Limiter is a pool of token buckets refilled at Every and holding up to
// Burst tokens. Entries idle for longer than the refill of a full bucket are
// evicted by Cleanup.
type Limiter struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	every time.Duration
	burst int
	clk   clock.Clock
}

// New creates a pool that allows burst events at once and then one event
// per every.
func New(every time.Duration, burst int) *Limiter {
	return NewWithClock(every, burst, clock.New())
}

// NewWithClock is New with an explicit clock.
func NewWithClock(every time.Duration, burst int, clk clock.Clock) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		m:     make(map[string]*limiterEntry),
		every: every,
		burst: burst,
		clk:   clk,
	}
}

func (p *Limiter) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(rate.Every(p.every), p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

// Allow consumes a token for key and reports whether one was available.
func (p *Limiter) Allow(key string) bool {
	now := p.clk.Now()
	return p.get(key, now).AllowN(now, 1)
}

// RetryAfterSeconds is how long key has to wait for its next token, rounded
// up to whole seconds. It does not consume anything.
func (p *Limiter) RetryAfterSeconds(key string) int {
	now := p.clk.Now()
	l := p.get(key, now)
	tokens := l.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	wait := time.Duration((1 - tokens) * float64(p.every))
	return int(math.Ceil(wait.Seconds()))
}

// Reset forgets key, giving it a full bucket again.
func (p *Limiter) Reset(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
}

// Cleanup evicts entries that have had time to refill completely; they are
// indistinguishable from new ones.
func (p *Limiter) Cleanup() {
	idle := p.every * time.Duration(p.burst)
	cutoff := p.clk.Now().Add(-idle)

	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
}

// Len returns the number of tracked keys.
func (p *Limiter) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// RunCleanup calls Cleanup every period until stop is closed.
func (p *Limiter) RunCleanup(period time.Duration, stop <-chan struct{}) {
	ticker := p.clk.Ticker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Cleanup()
		case <-stop:
			return
		}
	}
}

// ParseTrustedProxies parses a list of proxy addresses or CIDR ranges.
func ParseTrustedProxies(list []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(list))
	for _, item := range list {
		if strings.Contains(item, "/") {
			prefix, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, err
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// ExtractIP returns the client IP of r.
//
// Forwarding headers are only read when the direct peer is one of trusted.
// X-Forwarded-For is then walked from the right, skipping trusted hops, so
// a client cannot pick its own address by prepending entries. X-Real-IP is
// the fallback. With no trusted proxies the peer address is always used.
func ExtractIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if !isTrusted(peer, trusted) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !isTrusted(hop, trusted) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
