package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/storefront/navcore/pkg/breaker"
	"github.com/storefront/navcore/pkg/config"
	"github.com/storefront/navcore/pkg/connectivity"
	"github.com/storefront/navcore/pkg/control"
	"github.com/storefront/navcore/pkg/export"
	"github.com/storefront/navcore/pkg/fallback"
	"github.com/storefront/navcore/pkg/history"
	"github.com/storefront/navcore/pkg/ledger"
	"github.com/storefront/navcore/pkg/metrics"
	"github.com/storefront/navcore/pkg/nav"
	"github.com/storefront/navcore/pkg/notify"
	"github.com/storefront/navcore/pkg/queue"
	"github.com/storefront/navcore/pkg/store"
	"github.com/storefront/navcore/pkg/timing"
)

func main() {
	configPath := flag.String("config", "/etc/navcore/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// ── Durable store ─────────────────────────────────────────────
	var st *store.Store
	if cfg.Storage.InMemory {
		st, err = store.OpenInMemory()
	} else {
		st, err = store.Open(cfg.Storage.Dir)
	}
	if err != nil {
		slog.Error("failed to open store", "dir", cfg.Storage.Dir, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// ── Export collector + control server event stream ───────────
	collector, err := export.NewCollector(export.CollectorConfig{
		Enabled:       cfg.Export.Enabled,
		Sink:          cfg.Export.Sink,
		FilePath:      cfg.Export.FilePath,
		EndpointAddr:  cfg.Export.EndpointAddr,
		BatchSize:     cfg.Export.BatchSize,
		FlushInterval: cfg.Export.FlushInterval,
	})
	if err != nil {
		slog.Error("failed to create export collector", "error", err)
		os.Exit(1)
	}
	defer collector.Close()
	if cfg.Export.Enabled {
		slog.Info("event export enabled", "sink", cfg.Export.Sink)
	}

	// The ledger mirrors every event to the export collector and to
	// connected stream clients. Broadcast is a no-op on the still-nil
	// ctlServer; the server is assigned before monitor and coordinator
	// start producing events.
	var ctlServer *control.Server
	led := ledger.New(cfg.Ledger.Capacity, func(e ledger.Event) {
		collector.Record(e)
		ctlServer.Broadcast(e)
	})

	// ── Core services ─────────────────────────────────────────────
	correlator := timing.New(cfg.Timing.MaxLive)
	tracker := history.New(history.Config{
		Capacity:   cfg.History.Capacity,
		FailureTTL: cfg.History.FailureTTL,
	}, st)
	q := queue.New(queue.Config{DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts}, st)
	brk := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessRateFloor: cfg.Breaker.SuccessRateFloor,
		WindowSize:       cfg.Breaker.WindowSize,
		CoolDown:         cfg.Breaker.CoolDown,
		MaxCoolDown:      cfg.Breaker.MaxCoolDown,
	}, nav.BreakerEventHook(led))
	resolver := fallback.New(cfg.Fallback.Root, cfg.Fallback.Hierarchy)

	// ── Connectivity ──────────────────────────────────────────────
	var src connectivity.Source
	online := true
	opSrc, err := connectivity.NewOperstateSource(cfg.Connectivity.Interface, cfg.Connectivity.StatePath)
	if err != nil {
		slog.Warn("operstate watcher unavailable, assuming online",
			"interface", cfg.Connectivity.Interface, "error", err)
	} else {
		src = opSrc
		online = opSrc.ReadState()
	}
	monitor := connectivity.NewMonitor(src, nil, online)
	defer monitor.Close()

	coordinator := nav.New(nav.Deps{
		Ledger:       led,
		Timing:       correlator,
		History:      tracker,
		Connectivity: monitor,
		Queue:        q,
		Breaker:      brk,
		Fallback:     resolver,
		Notifier:     notify.SlogNotifier{},
		TopRoutes:    cfg.Ledger.TopRoutes,
	})
	defer coordinator.Close()

	// ── Metrics + health server ───────────────────────────────────
	metrics.RegisterHealthCheck("store", func() error {
		var probe struct{}
		_, err := st.Get("healthz:probe", &probe)
		return err
	})

	metricsStop := make(chan struct{})
	if cfg.Metrics.MetricsEnabled() {
		go func() {
			if err := metrics.MetricsServer(cfg.Metrics.Addr, metricsStop); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
		slog.Info("metrics server started", "addr", cfg.Metrics.Addr)
	} else {
		slog.Info("metrics server disabled")
	}
	defer close(metricsStop)

	// ── Control server ────────────────────────────────────────────
	ctlServer = control.NewServer(cfg.Control.Addr, control.Deps{
		Coordinator: coordinator,
		Ledger:      led,
		Queue:       q,
		Breaker:     brk,
		History:     tracker,
	})

	// Events can flow from here on.
	monitor.Start()
	coordinator.Start()

	slog.Info("navcore agent started",
		"control_addr", cfg.Control.Addr,
		"interface", cfg.Connectivity.Interface,
		"online", monitor.Online())

	if err := ctlServer.Run(ctx); err != nil {
		slog.Error("control server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("navcore agent stopped cleanly")
}
