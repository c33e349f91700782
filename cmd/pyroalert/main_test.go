package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRenderUnit(t *testing.T) {
	unit, err := renderUnit("/opt/pyroalert")
	if err != nil {
		t.Fatalf("renderUnit returned error: %v", err)
	}
	for _, want := range []string{
		"ExecStart=/opt/pyroalert/pyroalert --config /opt/pyroalert/config.json",
		"WorkingDirectory=/opt/pyroalert",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q", want)
		}
	}
}

func TestRootCommand(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"version", "install", "uninstall"} {
		if !names[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}

	for _, flag := range []string{"config", "env-file", "port", "nats-port"} {
		if rootCmd.Flags().Lookup(flag) == nil {
			t.Errorf("missing flag --%s", flag)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version returned error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "PyroAlert v"+version) {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestWaitForShutdown(t *testing.T) {
	t.Run("component failure is returned", func(t *testing.T) {
		failed := make(chan error, 1)
		want := errors.New("listen tcp :8080: bind: address already in use")
		failed <- want

		if err := waitForShutdown(context.Background(), failed); !errors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
	})

	t.Run("signal shutdown is clean", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := waitForShutdown(ctx, make(chan error)); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("blocks while running", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		waitForShutdown(ctx, make(chan error))
		if time.Since(start) < 40*time.Millisecond {
			t.Error("returned before the context ended")
		}
	})
}
