package consilium

import (
	"sync"
	"time"
)

// idleEvict is how long a client window may sit unused before it is pruned.
const idleEvict = 10 * time.Minute

// RateLimiter enforces a per-client-address sliding window: at most
// perMinute requests are admitted in any 60 second span. Each admission
// records a timestamp; timestamps older than a minute slide out.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	windows   map[string]*clientWindow
	now       func() time.Time
}

type clientWindow struct {
	stamps   []time.Time
	lastSeen time.Time
}

// NewRateLimiter creates a limiter admitting perMinute requests per client
// address in any sliding minute. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		windows:   make(map[string]*clientWindow),
		now:       time.Now,
	}
}

// Allow reports whether the client at addr may proceed, recording the
// request when it may. Idle windows are evicted opportunistically on access.
func (l *RateLimiter) Allow(addr string) bool {
	if l.perMinute <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	w, ok := l.windows[addr]
	if !ok {
		w = &clientWindow{}
		l.windows[addr] = w
	}
	w.lastSeen = now
	l.prune(now)

	w.stamps = pruneBefore(w.stamps, now.Add(-time.Minute))
	if len(w.stamps) >= l.perMinute {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// prune drops windows idle past idleEvict. Caller holds l.mu.
func (l *RateLimiter) prune(now time.Time) {
	for addr, w := range l.windows {
		if now.Sub(w.lastSeen) > idleEvict {
			delete(l.windows, addr)
		}
	}
}

// pruneBefore removes entries older than cutoff from a sorted time slice.
func pruneBefore(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && s[i].Before(cutoff) {
		i++
	}
	return s[i:]
}
