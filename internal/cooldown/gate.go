// Package cooldown suppresses repeated alerts of the same class
package cooldown

import (
	"sort"
	"sync"
	"time"

	"github.com/somash07/PyroAlert/internal/detection"
)

// DefaultCooldown is the minimum spacing between two alerts of one class
const DefaultCooldown = 5 * time.Second

// Gate tracks the last emission time of each alert class
type Gate struct {
	cooldown time.Duration

	mu   sync.Mutex
	last map[detection.Label]time.Time
}

// NewGate creates a per-class gate. A non-positive cooldown lets every
// candidate through whose timestamp moved forward.
func NewGate(cooldown time.Duration) *Gate {
	return &Gate{
		cooldown: cooldown,
		last:     make(map[detection.Label]time.Time),
	}
}

// Cooldown returns the configured window
func (g *Gate) Cooldown() time.Duration {
	return g.cooldown
}

// Allow decides emit-or-suppress for one candidate. On emit the class's last
// alert time is set to now before the lock is released.
func (g *Gate) Allow(c detection.Candidate, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, seen := g.last[c.Label]; seen && now.Sub(last) <= g.cooldown {
		return false
	}
	g.last[c.Label] = now
	return true
}

// Admit applies the frame tie-break: only the highest-priority candidate is
// checked against its gate. Lower-priority classes in the same frame are left
// untouched so they can alert in a later frame.
func (g *Gate) Admit(candidates []detection.Candidate, now time.Time) (detection.Candidate, bool) {
	if len(candidates) == 0 {
		return detection.Candidate{}, false
	}

	ordered := make([]detection.Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Label.Priority() < ordered[j].Label.Priority()
	})

	top := ordered[0]
	if !top.Label.Reportable() {
		return detection.Candidate{}, false
	}
	if !g.Allow(top, now) {
		return top, false
	}
	return top, true
}

// Last returns when the class last emitted
func (g *Gate) Last(label detection.Label) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.last[label]
	return t, ok
}

// Snapshot returns a copy of every class's last emission time
func (g *Gate) Snapshot() map[detection.Label]time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[detection.Label]time.Time, len(g.last))
	for label, t := range g.last {
		out[label] = t
	}
	return out
}
