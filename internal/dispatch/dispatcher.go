// Package dispatch delivers admitted alerts off the frame loop
package dispatch

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/somash07/PyroAlert/internal/detection"
	"github.com/somash07/PyroAlert/internal/platform"
)

var (
	// ErrQueueFull means the alert was dropped because every worker is busy
	// and the queue is at capacity
	ErrQueueFull = errors.New("alert queue full")
	// ErrStopped means the dispatcher no longer accepts alerts
	ErrStopped = errors.New("dispatcher stopped")
)

// Channel is the persistent live connection. Its state is advisory.
type Channel interface {
	IsConnected() bool
	Send(payload []byte) error
}

// Submitter posts alerts to the backend collection endpoint
type Submitter interface {
	SubmitAlert(ctx context.Context, alert *platform.AlertRequest) ([]byte, error)
}

// Config sizes the worker pool
type Config struct {
	Workers   int
	QueueSize int
	Identity  Identity
}

// Dispatcher hands alerts to a fixed pool of delivery workers
type Dispatcher struct {
	cfg       Config
	channel   Channel
	submitter Submitter
	now       func() time.Time

	jobs     chan *AlertEvent
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Stats
	enqueued          atomic.Uint64
	dropped           atomic.Uint64
	submitted         atomic.Uint64
	submitFailures    atomic.Uint64
	broadcasts        atomic.Uint64
	broadcastFailures atomic.Uint64
	broadcastSkipped  atomic.Uint64
	acks              atomic.Uint64
	panics            atomic.Uint64
	inFlight          atomic.Int64
}

// New creates a dispatcher. Call Start to launch the workers.
func New(cfg Config, channel Channel, submitter Submitter) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	return &Dispatcher{
		cfg:       cfg,
		channel:   channel,
		submitter: submitter,
		now:       time.Now,
		jobs:      make(chan *AlertEvent, cfg.QueueSize),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the workers. Submissions are not cancelled by ctx, so a
// delivery in progress at shutdown still runs to its request timeout.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	log.Printf("🔥 Alert dispatcher started (%d workers, queue %d)", d.cfg.Workers, d.cfg.QueueSize)
}

// Stop stops accepting alerts and waits for in-flight deliveries. Alerts
// still queued are dropped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
	})
	d.wg.Wait()

	if n := len(d.jobs); n > 0 {
		d.dropped.Add(uint64(n))
		log.Printf("⚠️ Dropped %d queued alerts on shutdown", n)
	}
	log.Println("🔥 Alert dispatcher stopped")
}

// Enqueue builds an event for the candidate and queues it. It never blocks;
// false means the alert was dropped.
func (d *Dispatcher) Enqueue(c detection.Candidate) bool {
	ev := NewEvent(c, d.cfg.Identity, d.now())
	if err := d.Dispatch(ev); err != nil {
		log.Printf("⚠️ Dropping %s alert %s: %v", ev.AlertType, ev.ID, err)
		return false
	}
	return true
}

// Dispatch queues a prepared event without blocking
func (d *Dispatcher) Dispatch(ev *AlertEvent) error {
	select {
	case <-d.stopChan:
		d.dropped.Add(1)
		return ErrStopped
	default:
	}

	select {
	case d.jobs <- ev:
		d.enqueued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	submitCtx := context.WithoutCancel(ctx)
	for {
		// Prefer shutdown over picking up more work
		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		case ev := <-d.jobs:
			d.deliver(submitCtx, id, ev)
		}
	}
}

// deliver broadcasts the alert live when the channel is up, then submits it
// to the backend and relays the acknowledgement. Failures are logged and
// counted, never returned.
func (d *Dispatcher) deliver(ctx context.Context, worker int, ev *AlertEvent) {
	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			log.Printf("❌ Alert worker %d recovered from panic: %v\n%s", worker, r, debug.Stack())
		}
	}()

	log.Printf("🔥 Delivering %s alert %s (confidence %.2f)", ev.AlertType, ev.ID, ev.Confidence)

	if d.channel.IsConnected() {
		if err := d.broadcast(ev.ChannelMessage()); err != nil {
			log.Printf("⚠️ Live broadcast of alert %s failed: %v", ev.ID, err)
		}
	} else {
		d.broadcastSkipped.Add(1)
		log.Printf("📡 Central channel down, skipping live broadcast of alert %s", ev.ID)
	}

	ack, err := d.submitter.SubmitAlert(ctx, ev.Request())
	if err != nil {
		d.submitFailures.Add(1)
		log.Printf("❌ Failed to submit alert %s: %v", ev.ID, err)
		return
	}
	d.submitted.Add(1)
	log.Printf("✅ Alert %s accepted by backend", ev.ID)

	if !d.channel.IsConnected() {
		d.broadcastSkipped.Add(1)
		return
	}
	if err := d.broadcast(AckMessage(ev.ID, ack)); err != nil {
		log.Printf("⚠️ Acknowledgement broadcast for alert %s failed: %v", ev.ID, err)
		return
	}
	d.acks.Add(1)
}

func (d *Dispatcher) broadcast(msg []byte, err error) error {
	if err == nil {
		err = d.channel.Send(msg)
	}
	if err != nil {
		d.broadcastFailures.Add(1)
		return err
	}
	d.broadcasts.Add(1)
	return nil
}

// Stats holds dispatcher statistics
type Stats struct {
	Workers           int    `json:"workers"`
	QueueSize         int    `json:"queueSize"`
	Queued            int    `json:"queued"`
	InFlight          int64  `json:"inFlight"`
	Enqueued          uint64 `json:"enqueued"`
	Dropped           uint64 `json:"dropped"`
	Submitted         uint64 `json:"submitted"`
	SubmitFailures    uint64 `json:"submitFailures"`
	Broadcasts        uint64 `json:"broadcasts"`
	BroadcastFailures uint64 `json:"broadcastFailures"`
	BroadcastSkipped  uint64 `json:"broadcastSkipped"`
	Acks              uint64 `json:"acks"`
	Panics            uint64 `json:"panics"`
}

// Stats returns current stats
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Workers:           d.cfg.Workers,
		QueueSize:         d.cfg.QueueSize,
		Queued:            len(d.jobs),
		InFlight:          d.inFlight.Load(),
		Enqueued:          d.enqueued.Load(),
		Dropped:           d.dropped.Load(),
		Submitted:         d.submitted.Load(),
		SubmitFailures:    d.submitFailures.Load(),
		Broadcasts:        d.broadcasts.Load(),
		BroadcastFailures: d.broadcastFailures.Load(),
		BroadcastSkipped:  d.broadcastSkipped.Load(),
		Acks:              d.acks.Load(),
		Panics:            d.panics.Load(),
	}
}
