package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/somash07/PyroAlert/internal/detection"
	"github.com/somash07/PyroAlert/internal/platform"
)

type fakeChannel struct {
	connected atomic.Bool
	sendErr   error

	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeChannel) IsConnected() bool { return f.connected.Load() }

func (f *fakeChannel) Send(payload []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeChannel) messages() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.sent))
	for _, raw := range f.sent {
		var m map[string]interface{}
		json.Unmarshal(raw, &m)
		out = append(out, m)
	}
	return out
}

type fakeSubmitter struct {
	body    []byte
	err     error
	release chan struct{} // when set, each submission waits for it
	panics  atomic.Bool

	mu       sync.Mutex
	requests []*platform.AlertRequest
}

func (f *fakeSubmitter) SubmitAlert(ctx context.Context, alert *platform.AlertRequest) ([]byte, error) {
	if f.panics.Load() {
		panic("submitter exploded")
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.requests = append(f.requests, alert)
	f.mu.Unlock()
	return f.body, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

var testIdentity = Identity{
	DeviceName:      "edge-01",
	SourceDeviceID:  "pyro-001",
	CameraID:        "camera_001",
	Location:        "Factory Zone A",
	Latitude:        27.6745405,
	Longitude:       85.4478716,
	DetectionMethod: "YOLO vision",
	AlertSource:     "automated_detection",
}

func fire(conf float64) detection.Candidate {
	return detection.Candidate{Label: detection.LabelFire, Confidence: conf}
}

func newTestDispatcher(ch Channel, sub Submitter, workers, queue int) *Dispatcher {
	d := New(Config{Workers: workers, QueueSize: queue, Identity: testIdentity}, ch, sub)
	d.Start(context.Background())
	return d
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestDispatcher_DisconnectedStillSubmits(t *testing.T) {
	ch := &fakeChannel{}
	sub := &fakeSubmitter{body: []byte(`{"status":"pending_response"}`)}
	d := newTestDispatcher(ch, sub, 2, 8)
	defer d.Stop()

	start := time.Now()
	if !d.Enqueue(fire(0.9)) {
		t.Fatal("Enqueue rejected alert")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Enqueue blocked")
	}

	// Both the alert and its ack broadcast are skipped
	if !waitFor(t, time.Second, func() bool { return d.Stats().BroadcastSkipped == 2 }) {
		t.Fatalf("expected both broadcasts skipped, stats %+v", d.Stats())
	}
	if d.Stats().Submitted != 1 {
		t.Errorf("alert was not submitted, stats %+v", d.Stats())
	}
	if len(ch.messages()) != 0 {
		t.Error("nothing should be sent while disconnected")
	}
}

func TestDispatcher_EnqueueNeverBlocks(t *testing.T) {
	ch := &fakeChannel{}
	sub := &fakeSubmitter{release: make(chan struct{})}
	d := newTestDispatcher(ch, sub, 1, 1)
	defer d.Stop()
	defer close(sub.release)

	if !d.Enqueue(fire(0.9)) {
		t.Fatal("first alert rejected")
	}
	if !waitFor(t, time.Second, func() bool { return d.Stats().InFlight == 1 }) {
		t.Fatal("worker did not pick up first alert")
	}
	if !d.Enqueue(fire(0.8)) {
		t.Fatal("second alert should fit in the queue")
	}

	start := time.Now()
	if d.Enqueue(fire(0.7)) {
		t.Error("third alert should be dropped")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Enqueue blocked on a full queue")
	}

	err := d.Dispatch(NewEvent(fire(0.7), testIdentity, time.Now()))
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if got := d.Stats().Dropped; got != 2 {
		t.Errorf("expected 2 dropped, got %d", got)
	}
}

// Channel drops, three alerts go out, channel comes back, a fourth goes out.
func TestDispatcher_DropAndReconnect(t *testing.T) {
	ch := &fakeChannel{}
	sub := &fakeSubmitter{body: []byte(`{"message":"Alert created","status":"pending_response"}`)}
	d := newTestDispatcher(ch, sub, 4, 8)
	defer d.Stop()

	for i := 0; i < 3; i++ {
		d.Enqueue(fire(0.9))
	}
	// Wait for the ack skips too, so no worker is still deciding
	if !waitFor(t, time.Second, func() bool { return d.Stats().BroadcastSkipped == 6 }) {
		t.Fatalf("expected 3 deliveries without broadcast, stats %+v", d.Stats())
	}
	if sub.count() != 3 {
		t.Fatalf("expected 3 submissions, got %d", sub.count())
	}
	if len(ch.messages()) != 0 {
		t.Fatal("no broadcast expected while disconnected")
	}

	ch.connected.Store(true)
	d.Enqueue(fire(0.95))

	if !waitFor(t, time.Second, func() bool { return d.Stats().Acks == 1 }) {
		t.Fatalf("expected ack broadcast, stats %+v", d.Stats())
	}
	if sub.count() != 4 {
		t.Errorf("expected 4 submissions, got %d", sub.count())
	}

	msgs := ch.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected alert and ack messages, got %d", len(msgs))
	}
	if msgs[0]["type"] != "fire_alert" || msgs[0]["confidence"] != 0.95 {
		t.Errorf("unexpected alert message %v", msgs[0])
	}
	if msgs[1]["type"] != "alert_ack" || msgs[1]["alert_id"] != msgs[0]["id"] {
		t.Errorf("unexpected ack message %v", msgs[1])
	}
	data, _ := msgs[1]["data"].(map[string]interface{})
	if data["status"] != "pending_response" {
		t.Errorf("ack should carry the backend response, got %v", msgs[1]["data"])
	}
}

func TestDispatcher_FailuresAreContained(t *testing.T) {
	t.Run("submission failure", func(t *testing.T) {
		ch := &fakeChannel{}
		ch.connected.Store(true)
		sub := &fakeSubmitter{err: &platform.SubmissionError{Op: "status", StatusCode: 500, Err: errors.New("boom")}}
		d := newTestDispatcher(ch, sub, 1, 4)
		defer d.Stop()

		d.Enqueue(fire(0.9))
		if !waitFor(t, time.Second, func() bool { return d.Stats().SubmitFailures == 1 }) {
			t.Fatalf("expected a submit failure, stats %+v", d.Stats())
		}
		if d.Stats().Acks != 0 {
			t.Error("no ack expected after a failed submission")
		}
		if len(ch.messages()) != 1 {
			t.Error("live broadcast should still have been sent")
		}
	})

	t.Run("channel send failure", func(t *testing.T) {
		ch := &fakeChannel{sendErr: errors.New("broken pipe")}
		ch.connected.Store(true)
		sub := &fakeSubmitter{body: []byte(`{}`)}
		d := newTestDispatcher(ch, sub, 1, 4)
		defer d.Stop()

		d.Enqueue(fire(0.9))
		if !waitFor(t, time.Second, func() bool { return d.Stats().BroadcastFailures == 2 }) {
			t.Fatalf("expected alert and ack sends to fail, stats %+v", d.Stats())
		}
		if d.Stats().Submitted != 1 {
			t.Errorf("submission should proceed after a send failure, stats %+v", d.Stats())
		}
	})

	t.Run("worker panic", func(t *testing.T) {
		ch := &fakeChannel{}
		sub := &fakeSubmitter{body: []byte(`{}`)}
		sub.panics.Store(true)
		d := newTestDispatcher(ch, sub, 1, 4)
		defer d.Stop()

		d.Enqueue(fire(0.9))
		if !waitFor(t, time.Second, func() bool { return d.Stats().Panics == 1 }) {
			t.Fatal("panic was not recovered")
		}

		sub.panics.Store(false)
		d.Enqueue(fire(0.9))
		if !waitFor(t, time.Second, func() bool { return d.Stats().Submitted == 1 }) {
			t.Error("worker did not survive the panic")
		}
	})
}

func TestDispatcher_Stop(t *testing.T) {
	ch := &fakeChannel{}
	sub := &fakeSubmitter{body: []byte(`{}`)}
	d := newTestDispatcher(ch, sub, 2, 4)
	d.Stop()

	if d.Enqueue(fire(0.9)) {
		t.Error("Enqueue should fail after Stop")
	}
	if err := d.Dispatch(NewEvent(fire(0.9), testIdentity, time.Now())); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}

	// Second Stop is a no-op
	d.Stop()
}
