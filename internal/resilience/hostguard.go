package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrHostBlocked is returned by Allow while a feed host sits out its
// cooldown after repeated failures.
var ErrHostBlocked = eris.New("resilience: host blocked after repeated failures")

// HostGuard blocks fetches against feed hosts that keep failing so one
// dead host cannot eat a whole crawl pass. After threshold consecutive
// host-side failures (network or upstream class) the host is blocked for
// the cooldown; the first Allow after the cooldown lets a single probe
// through, and that probe's outcome either clears the host or blocks it
// again.
type HostGuard struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu    sync.Mutex
	hosts map[string]*hostHealth
}

type hostHealth struct {
	failures     int
	blockedUntil time.Time
	probing      bool
}

// NewHostGuard creates a guard. Non-positive parameters fall back to
// 5 failures and a 30s cooldown.
func NewHostGuard(threshold int, cooldown time.Duration) *HostGuard {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &HostGuard{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		hosts:     make(map[string]*hostHealth),
	}
}

// Allow reports whether a fetch against host may proceed.
func (g *HostGuard) Allow(host string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := g.hosts[host]
	if h == nil || h.failures < g.threshold {
		return nil
	}
	if g.now().Before(h.blockedUntil) {
		return ErrHostBlocked
	}
	if h.probing {
		// A probe is already in flight; hold everyone else back until
		// its outcome is recorded.
		return ErrHostBlocked
	}
	h.probing = true
	return nil
}

// Record feeds a fetch outcome back into the guard. Only failures that
// point at the host itself (network or upstream class) count toward
// blocking; a rejected request is the URL's problem, not the host's, and
// throttling is handled by the rate limiter.
func (g *HostGuard) Record(host string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := g.hosts[host]
	if h == nil {
		h = &hostHealth{}
		g.hosts[host] = h
	}

	if err == nil {
		h.failures = 0
		h.blockedUntil = time.Time{}
		h.probing = false
		return
	}

	h.probing = false
	switch ClassOf(err) {
	case FailureNetwork, FailureUpstream:
	default:
		return
	}

	h.failures++
	if h.failures >= g.threshold {
		h.blockedUntil = g.now().Add(g.cooldown)
	}
}

// Blocked lists hosts currently sitting out a cooldown, sorted for
// stable snapshot output.
func (g *HostGuard) Blocked() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var hosts []string
	for host, h := range g.hosts {
		if h.failures >= g.threshold && now.Before(h.blockedUntil) {
			hosts = append(hosts, host)
		}
	}
	sort.Strings(hosts)
	return hosts
}
