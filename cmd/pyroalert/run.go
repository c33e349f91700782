package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/somash07/PyroAlert/internal/central"
	"github.com/somash07/PyroAlert/internal/config"
	"github.com/somash07/PyroAlert/internal/cooldown"
	"github.com/somash07/PyroAlert/internal/detection"
	"github.com/somash07/PyroAlert/internal/dispatch"
	"github.com/somash07/PyroAlert/internal/metrics"
	"github.com/somash07/PyroAlert/internal/natsserver"
	"github.com/somash07/PyroAlert/internal/pipeline"
	"github.com/somash07/PyroAlert/internal/platform"
	"github.com/somash07/PyroAlert/internal/web"
)

// loadConfig resolves .env, file and environment, then applies flag
// overrides. Any failure here is fatal.
func loadConfig(cmd *cobra.Command) *config.Config {
	if err := config.LoadDotEnv(envFile); err != nil {
		log.Fatalf("❌ Failed to load env file: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	if cmd.Flags().Changed("port") {
		cfg.Web.Port = webPort
	}
	if cmd.Flags().Changed("nats-port") {
		cfg.NATS.Port = natsPort
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	return cfg
}

func runNode(cmd *cobra.Command) error {
	cfg := loadConfig(cmd)

	log.Printf("🚀 Starting PyroAlert v%s on %s (%s)", version, cfg.Identity.DeviceName, cfg.Identity.NodeModel)

	filter, err := detection.NewFilter(cfg.Detection.Threshold, cfg.Detection.AlertThreshold)
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	gate := cooldown.NewGate(cfg.Alert.Cooldown.Std())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Resources are closed in reverse order of the defers below: frame loop,
	// dispatcher, channel, status server, bus.
	bus, err := natsserver.New(natsserver.Config{
		Port:       cfg.NATS.Port,
		MaxPayload: cfg.NATS.MaxPayload,
	})
	if err != nil {
		return err
	}
	defer bus.Shutdown()

	m := metrics.New()

	tokens := platform.NewTokenSource(
		cfg.Platform.DeviceSecret,
		cfg.Identity.SourceDeviceID,
		cfg.Identity.DeviceName,
		cfg.Platform.TokenTTL.Std(),
	)

	channel := central.NewClient(central.Config{
		URL:              cfg.Central.URL,
		ReconnectBackoff: cfg.Central.ReconnectBackoff.Std(),
		HandshakeTimeout: cfg.Central.HandshakeTimeout.Std(),
		PingInterval:     cfg.Central.PingInterval.Std(),
		PingTimeout:      cfg.Central.PingTimeout.Std(),
		WriteTimeout:     cfg.Central.WriteTimeout.Std(),
		Header:           tokens.Header,
		OnMessage:        m.CentralMessage,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
		Identity: dispatch.Identity{
			DeviceName:      cfg.Identity.DeviceName,
			SourceDeviceID:  cfg.Identity.SourceDeviceID,
			CameraID:        cfg.Identity.CameraID,
			Location:        cfg.Identity.Location,
			Latitude:        cfg.Identity.Latitude,
			Longitude:       cfg.Identity.Longitude,
			DetectionMethod: cfg.Identity.DetectionMethod,
			AlertSource:     cfg.Identity.AlertSource,
		},
	}, channel, platform.NewClient(cfg.AlertURL(), cfg.Platform.RequestTimeout.Std(), tokens))

	m.WatchChannel(channel.Stats)
	m.WatchDispatcher(dispatcher.Stats)

	webServer := web.NewServer(cfg, web.Deps{
		Channel:  channel,
		Dispatch: dispatcher,
		Bus:      bus,
		Cooldown: gate,
		Metrics:  m,
	})
	failed := make(chan error, 1)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Printf("❌ Status API failed: %v", err)
			failed <- fmt.Errorf("status API: %w", err)
		}
	}()
	defer webServer.Stop()

	channel.Start(ctx)
	defer channel.Stop()

	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	frames := pipeline.New(filter, gate, dispatcher, m)
	if err := frames.Start(ctx, bus, cfg.Detection.Subject); err != nil {
		return err
	}
	defer frames.Stop()

	log.Printf("✅ PyroAlert running")
	log.Printf("🌐 Status API: http://localhost:%d", cfg.Web.Port)
	log.Printf("📡 Detection bus: %s (subject %s)", bus.Address(), cfg.Detection.Subject)
	log.Printf("📡 Central channel: %s", cfg.Central.URL)
	log.Printf("🔥 Alerts: %s", cfg.AlertURL())

	err = waitForShutdown(ctx, failed)
	log.Println("🛑 Shutting down...")
	return err
}

// waitForShutdown blocks until the context ends or a background component
// fails. A component failure is returned so the process exits non-zero.
func waitForShutdown(ctx context.Context, failed <-chan error) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return err
	}
}
