package ratelimit

import (
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Chance per check of sweeping expired entries. Expired entries are
// already treated as absent on lookup, so the sweep only bounds memory
// growth from one-shot clients.
const sweepProbability = 0.01

const maxUserAgentKeyLen = 50

// Config is one endpoint class's fixed-window limit. Classes with
// different names keep fully independent counters for the same client.
type Config struct {
	Name   string
	Window time.Duration
	Max    int
}

// Result is the outcome of a single check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
	Total     int
}

type entry struct {
	count     int
	resetTime time.Time
}

// Limiter counts requests per client key per endpoint class using fixed
// windows. State is per-process only: with multiple instances each enforces
// its own limit, so the effective global limit is max * instance_count.
// A window boundary also admits up to 2*max requests back to back; both
// are accepted tradeoffs at this scale.
type Limiter struct {
	mu      sync.Mutex
	classes map[string]map[string]*entry
	now     func() time.Time
}

func New() *Limiter {
	return NewWithClock(time.Now)
}

// NewWithClock creates a limiter with an injectable clock, for tests.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{
		classes: make(map[string]map[string]*entry),
		now:     now,
	}
}

// Check records one request against cfg's window for the request's client
// key and reports whether it is allowed. Denied requests do not increment
// the counter further.
func (l *Limiter) Check(r *http.Request, cfg Config) Result {
	key := ClientKey(r)

	l.mu.Lock()
	defer l.mu.Unlock()

	store := l.classes[cfg.Name]
	if store == nil {
		store = make(map[string]*entry)
		l.classes[cfg.Name] = store
	}

	now := l.now()
	e := store[key]
	if e == nil || now.After(e.resetTime) {
		e = &entry{resetTime: now.Add(cfg.Window)}
		store[key] = e
	}

	res := Result{
		ResetTime: e.resetTime,
		Total:     cfg.Max,
	}
	if e.count < cfg.Max {
		e.count++
		res.Allowed = true
		res.Remaining = cfg.Max - e.count
	}

	if rand.Float64() < sweepProbability {
		l.sweepLocked(now)
	}

	return res
}

func (l *Limiter) sweepLocked(now time.Time) {
	for _, store := range l.classes {
		for key, e := range store {
			if now.After(e.resetTime) {
				delete(store, key)
			}
		}
	}
}

// ClientKey derives a coarse client fingerprint from forwarding headers and
// the User-Agent. This is abuse mitigation, not identity: all of it is
// spoofable by whoever controls the headers.
func ClientKey(r *http.Request) string {
	ip := ""
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
	}
	if ip == "" {
		ip = "unknown"
	}

	ua := r.Header.Get("User-Agent")
	if len(ua) > maxUserAgentKeyLen {
		ua = ua[:maxUserAgentKeyLen]
	}

	return ip + "|" + ua
}

// Headers formats the standard rate limit headers for a check result,
// attached to allowed and denied responses alike.
func Headers(res Result) map[string]string {
	reset := res.ResetTime.Unix()
	if res.ResetTime.Nanosecond() > 0 {
		reset++
	}
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(res.Total),
		"X-RateLimit-Remaining": strconv.Itoa(res.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(reset, 10),
	}
}
