package cooldown

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/somash07/PyroAlert/internal/detection"
)

var epoch = time.Unix(1_700_000_000, 0)

func at(seconds float64) time.Time {
	return epoch.Add(time.Duration(seconds * float64(time.Second)))
}

func fire(conf float64) detection.Candidate {
	return detection.Candidate{Label: detection.LabelFire, Confidence: conf}
}

func smoke(conf float64) detection.Candidate {
	return detection.Candidate{Label: detection.LabelSmoke, Confidence: conf}
}

func TestGate_Scenario(t *testing.T) {
	g := NewGate(5 * time.Second)

	steps := []struct {
		at   float64
		c    detection.Candidate
		emit bool
	}{
		{0, fire(0.9), true},
		{3, fire(0.95), false},
		{6, fire(0.8), true},
	}

	for _, s := range steps {
		if got := g.Allow(s.c, at(s.at)); got != s.emit {
			t.Errorf("t=%v %s@%.2f: expected emit=%v, got %v", s.at, s.c.Label, s.c.Confidence, s.emit, got)
		}
	}
}

func TestGate_AtMostOncePerWindow(t *testing.T) {
	g := NewGate(5 * time.Second)

	emitted := 0
	// 50 candidates spread over 4.9s, all inside one window
	for i := 0; i < 50; i++ {
		if g.Allow(fire(0.9), at(float64(i)*0.1)) {
			emitted++
		}
	}
	if emitted != 1 {
		t.Errorf("expected exactly 1 emission inside the window, got %d", emitted)
	}
}

func TestGate_SpacedCandidatesAllEmit(t *testing.T) {
	g := NewGate(5 * time.Second)

	for i := 0; i < 10; i++ {
		ts := at(float64(i) * 5.5)
		if !g.Allow(smoke(0.7), ts) {
			t.Errorf("candidate %d at %v should emit", i, ts.Sub(epoch))
		}
	}
}

func TestGate_BoundaryIsSuppressed(t *testing.T) {
	g := NewGate(5 * time.Second)

	g.Allow(fire(0.9), at(0))
	if g.Allow(fire(0.9), at(5)) {
		t.Error("candidate exactly one cooldown later must be suppressed")
	}
}

func TestGate_ClassesAreIndependent(t *testing.T) {
	g := NewGate(5 * time.Second)

	if !g.Allow(fire(0.9), at(0)) {
		t.Fatal("first fire should emit")
	}
	if !g.Allow(smoke(0.9), at(1)) {
		t.Error("smoke must not be blocked by fire's cooldown")
	}
}

func TestGate_Admit(t *testing.T) {
	t.Run("fire wins over smoke in the same frame", func(t *testing.T) {
		g := NewGate(5 * time.Second)

		got, ok := g.Admit([]detection.Candidate{smoke(0.99), fire(0.7)}, at(0))
		if !ok || got.Label != detection.LabelFire {
			t.Fatalf("expected fire to be admitted, got %+v ok=%v", got, ok)
		}
		if _, seen := g.Last(detection.LabelSmoke); seen {
			t.Error("smoke gate must not be consulted when fire is present")
		}

		// smoke alone in a later frame still alerts
		got, ok = g.Admit([]detection.Candidate{smoke(0.8)}, at(1))
		if !ok || got.Label != detection.LabelSmoke {
			t.Errorf("expected smoke to be admitted in a later frame, got %+v ok=%v", got, ok)
		}
	})

	t.Run("fire in cooldown suppresses the whole frame", func(t *testing.T) {
		g := NewGate(5 * time.Second)

		g.Admit([]detection.Candidate{fire(0.9)}, at(0))
		if _, ok := g.Admit([]detection.Candidate{fire(0.9), smoke(0.9)}, at(2)); ok {
			t.Error("expected frame to be suppressed")
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		g := NewGate(5 * time.Second)
		if _, ok := g.Admit(nil, at(0)); ok {
			t.Error("expected nothing to be admitted")
		}
	})
}

func TestGate_ConcurrentCallersEmitOnce(t *testing.T) {
	g := NewGate(5 * time.Second)
	now := at(0)

	var emitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Allow(fire(0.9), now) {
				emitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if emitted.Load() != 1 {
		t.Errorf("expected 1 emission under concurrency, got %d", emitted.Load())
	}
}

func TestGate_Snapshot(t *testing.T) {
	g := NewGate(time.Second)
	g.Allow(fire(0.9), at(0))

	snap := g.Snapshot()
	snap[detection.LabelSmoke] = at(100)

	if _, seen := g.Last(detection.LabelSmoke); seen {
		t.Error("mutating the snapshot must not change the gate")
	}
	if last, _ := g.Last(detection.LabelFire); !last.Equal(at(0)) {
		t.Errorf("expected fire last=%v, got %v", at(0), last)
	}
}
