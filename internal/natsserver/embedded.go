// Package natsserver runs the local detection bus the detector publishes to
package natsserver

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// EmbeddedNATS wraps an embedded NATS server with a client connection
type EmbeddedNATS struct {
	server        *server.Server
	conn          *nats.Conn
	published     atomic.Uint64
	publishErrors atomic.Uint64
}

// Config holds configuration for the embedded NATS server
type Config struct {
	Host            string // Defaults to loopback; the detector runs on the same host
	Port            int    // server.RANDOM_PORT picks a free port
	MaxPayload      int32  // Max message size in bytes
	MaxPendingBytes int64  // Max pending bytes per slow consumer
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            4222,
		MaxPayload:      1024 * 1024,      // Detection frames are small JSON
		MaxPendingBytes: 16 * 1024 * 1024, // Max 16MB pending per subscriber
	}
}

// New creates and starts an embedded NATS server
func New(cfg Config) (*EmbeddedNATS, error) {
	defaults := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = defaults.Host
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = defaults.MaxPayload
	}
	if cfg.MaxPendingBytes <= 0 {
		cfg.MaxPendingBytes = defaults.MaxPendingBytes
	}

	opts := &server.Options{
		Host:          cfg.Host,
		Port:          cfg.Port,
		NoLog:         true,
		NoSigs:        true,
		MaxPayload:    cfg.MaxPayload,
		WriteDeadline: 10 * time.Second,
		// Memory protection: disconnect slow consumers
		MaxPending: cfg.MaxPendingBytes,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 5 seconds")
	}

	// Internal client used by the frame loop
	nc, err := nats.Connect(
		ns.ClientURL(),
		nats.Name("pyroalert-internal"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	log.Printf("📡 Detection bus listening on %s", ns.ClientURL())

	return &EmbeddedNATS{
		server: ns,
		conn:   nc,
	}, nil
}

// Publish publishes a message to a subject
func (e *EmbeddedNATS) Publish(subject string, data []byte) error {
	if err := e.conn.Publish(subject, data); err != nil {
		e.publishErrors.Add(1)
		return err
	}
	e.published.Add(1)
	return nil
}

// ChanSubscribe delivers a subject's messages onto ch
func (e *EmbeddedNATS) ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error) {
	return e.conn.ChanSubscribe(subject, ch)
}

// Conn returns the underlying NATS connection
func (e *EmbeddedNATS) Conn() *nats.Conn {
	return e.conn
}

// Address returns the URL detectors connect to
func (e *EmbeddedNATS) Address() string {
	return e.server.ClientURL()
}

// Stats holds NATS server statistics
type Stats struct {
	Address       string `json:"address"`
	Clients       int    `json:"clients"`
	Subscriptions uint32 `json:"subscriptions"`
	Published     uint64 `json:"published"`
	PublishErrors uint64 `json:"publishErrors"`
	InMsgs        int64  `json:"inMsgs"`
	InBytes       int64  `json:"inBytes"`
	SlowConsumers int64  `json:"slowConsumers"`
}

// GetStats returns current server statistics
func (e *EmbeddedNATS) GetStats() Stats {
	stats := Stats{
		Address:       e.Address(),
		Clients:       e.server.NumClients(),
		Subscriptions: e.server.NumSubscriptions(),
		Published:     e.published.Load(),
		PublishErrors: e.publishErrors.Load(),
	}
	if varz, _ := e.server.Varz(nil); varz != nil {
		stats.InMsgs = varz.InMsgs
		stats.InBytes = varz.InBytes
		stats.SlowConsumers = varz.SlowConsumers
	}
	return stats
}

// Shutdown closes the internal client and stops the server
func (e *EmbeddedNATS) Shutdown() {
	if e.conn != nil {
		e.conn.Close()
	}
	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
	}
	log.Println("📡 Detection bus shut down")
}
