// Package pipeline runs the frame loop: decode, filter, gate, enqueue
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/somash07/PyroAlert/internal/cooldown"
	"github.com/somash07/PyroAlert/internal/detection"
	"github.com/somash07/PyroAlert/internal/metrics"
)

// frameBuffer is how many frames may wait for the loop before NATS treats
// the subscription as a slow consumer
const frameBuffer = 64

// Bus is the local detection bus
type Bus interface {
	ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error)
}

// Enqueuer accepts admitted alerts without blocking
type Enqueuer interface {
	Enqueue(c detection.Candidate) bool
}

// Pipeline consumes detection frames sequentially. It never does network I/O
// itself; admitted alerts are handed to the Enqueuer.
type Pipeline struct {
	filter  *detection.Filter
	gate    *cooldown.Gate
	out     Enqueuer
	metrics *metrics.Metrics
	now     func() time.Time

	msgs chan *nats.Msg
	sub  *nats.Subscription
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New creates a frame loop
func New(filter *detection.Filter, gate *cooldown.Gate, out Enqueuer, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		filter:  filter,
		gate:    gate,
		out:     out,
		metrics: m,
		now:     time.Now,
		msgs:    make(chan *nats.Msg, frameBuffer),
		stop:    make(chan struct{}),
	}
}

// Start subscribes to subject and runs the loop until ctx is cancelled or
// Stop is called
func (p *Pipeline) Start(ctx context.Context, bus Bus, subject string) error {
	sub, err := bus.ChanSubscribe(subject, p.msgs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	p.sub = sub

	p.wg.Add(1)
	go p.run(ctx)

	log.Printf("🔥 Frame loop listening on %s", subject)
	return nil
}

// Stop unsubscribes and waits for the loop to exit
func (p *Pipeline) Stop() {
	p.once.Do(func() {
		if p.sub != nil {
			if err := p.sub.Unsubscribe(); err != nil {
				log.Printf("⚠️ Failed to unsubscribe frame loop: %v", err)
			}
		}
		close(p.stop)
	})
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case msg := <-p.msgs:
			p.HandleMessage(msg.Data)
		}
	}
}

// HandleMessage decodes and processes one bus message. Malformed frames are
// logged and skipped.
func (p *Pipeline) HandleMessage(data []byte) {
	received := time.Now()

	frame, err := detection.DecodeFrame(data)
	if err != nil {
		p.metrics.FramesMalformed.Add(1)
		log.Printf("⚠️ Skipping malformed frame: %v", err)
		return
	}

	p.Process(frame)
	p.metrics.ObserveFrame(received)
}

// Process runs one frame through the filter and cooldown gate and enqueues
// the admitted alert, if any. It returns the candidate that was considered
// and whether it was admitted.
func (p *Pipeline) Process(frame *detection.Frame) (detection.Candidate, bool) {
	now := p.now()

	visible := p.filter.Visible(frame.Detections)
	p.metrics.DetectionsVisible.Add(uint64(len(visible)))

	candidates := p.filter.Candidates(frame.Detections)
	if len(candidates) == 0 {
		return detection.Candidate{}, false
	}
	p.metrics.Candidates.Add(uint64(len(candidates)))

	c, ok := p.gate.Admit(candidates, now)
	if !ok {
		p.metrics.AlertsSuppressed.Add(1)
		return c, false
	}

	log.Printf("🔥 %s detected (confidence %.2f, frame %d), dispatching alert", c.Label, c.Confidence, frame.Seq)
	p.metrics.AlertAdmitted(string(c.Label))

	if !p.out.Enqueue(c) {
		p.metrics.AlertsDropped.Add(1)
	}
	return c, true
}
