// Command voicegate is the realtime taxi-booking voice gateway: it bridges
// telephony WebSocket connections to an upstream realtime speech model and
// runs the booking dialog for each call.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/adacab/voicegate/internal/bridge"
	"github.com/adacab/voicegate/internal/callstore"
	"github.com/adacab/voicegate/internal/config"
	"github.com/adacab/voicegate/internal/dispatch"
	"github.com/adacab/voicegate/internal/health"
	"github.com/adacab/voicegate/internal/observe"
	"github.com/adacab/voicegate/internal/protection"
	"github.com/adacab/voicegate/internal/session"
	"github.com/adacab/voicegate/internal/upstream"
)

const version = "0.4.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicegate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicegate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicegate starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Persistence ───────────────────────────────────────────────────────────
	var (
		store    callstore.Store = callstore.NopStore{}
		checkers []health.Checker
	)
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := callstore.Open(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate schema", "err", err)
			return 1
		}
		store = pg
		checkers = append(checkers, health.Checker{Name: "postgres", Check: pg.Ping})
		slog.Info("persistence enabled")
	} else {
		slog.Warn("no postgres_dsn configured, call records will not be persisted")
	}

	// ── Call engine ───────────────────────────────────────────────────────────
	hub := dispatch.NewHub()

	var upstreamOpts []upstream.Option
	if cfg.Upstream.Model != "" {
		upstreamOpts = append(upstreamOpts, upstream.WithModel(cfg.Upstream.Model))
	}
	if cfg.Upstream.BaseURL != "" {
		upstreamOpts = append(upstreamOpts, upstream.WithBaseURL(cfg.Upstream.BaseURL))
	}

	mgr := session.NewManager(session.Deps{
		Log:      logger,
		Upstream: upstream.New(cfg.Upstream.APIKey, upstreamOpts...),
		Hub:      hub,
		Store:    store,
		Metrics:  metrics,
	}, sessionConfig(cfg))

	// ── HTTP server ───────────────────────────────────────────────────────────
	router := bridge.NewRouter(ctx, logger, hub, health.New(checkers...), mgr.HandleCall)
	mux := http.NewServeMux()
	router.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics, logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// sessionConfig maps the file configuration onto the per-call engine config.
// Zero values select the engine defaults.
func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Language:          cfg.Session.Language,
		Voice:             cfg.Upstream.Voice,
		Temperature:       cfg.Upstream.Temperature,
		VADThreshold:      cfg.Upstream.VAD.Threshold,
		VADPrefixMs:       cfg.Upstream.VAD.PrefixPaddingMs,
		VADSilenceMs:      cfg.Upstream.VAD.SilenceDurationMs,
		MaxDuration:       cfg.Session.MaxDuration.Std(),
		KeepaliveInterval: cfg.Session.KeepaliveInterval.Std(),
		MonitorEveryN:     cfg.Session.MonitorEveryN,
		FlushDebounce:     cfg.Store.FlushDebounce.Std(),
		Protection:        protectionConfig(cfg.Protection),
		Dispatch: dispatch.Config{
			WebhookURL:     cfg.Dispatch.WebhookURL,
			Retries:        cfg.Dispatch.Retries,
			RetryDelay:     cfg.Dispatch.RetryInterval.Std(),
			AttemptTimeout: cfg.Dispatch.AttemptTimeout.Std(),
			FallbackDelay:  cfg.Dispatch.FallbackAfter.Std(),
			FallbackFare:   cfg.Dispatch.FallbackFare,
			FallbackEta:    cfg.Dispatch.FallbackEta,
		},
	}
}

// protectionConfig overlays configured guard windows on the defaults.
func protectionConfig(pc config.ProtectionConfig) protection.Config {
	out := protection.DefaultConfig()
	if pc.Greeting > 0 {
		out.Greeting = pc.Greeting.Std()
	}
	if pc.Echo > 0 {
		out.Echo = pc.Echo.Std()
	}
	if pc.Summary > 0 {
		out.Summary = pc.Summary.Std()
	}
	if pc.Confirm > 0 {
		out.Confirm = pc.Confirm.Std()
	}
	if pc.Goodbye > 0 {
		out.Goodbye = pc.Goodbye.Std()
	}
	if pc.LeadIn > 0 {
		out.LeadIn = pc.LeadIn.Std()
	}
	if pc.Cooldown > 0 {
		out.Cooldown = pc.Cooldown.Std()
	}
	if pc.BargeInMinRMS > 0 {
		out.BargeInMinRMS = pc.BargeInMinRMS
	}
	if pc.BargeInMaxRMS > 0 {
		out.BargeInMaxRMS = pc.BargeInMaxRMS
	}
	return out
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voicegate — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Model", orDefault(cfg.Upstream.Model, "(default)"))
	printRow("Voice", orDefault(cfg.Upstream.Voice, "(default)"))
	printRow("Language", orDefault(cfg.Session.Language, "auto"))
	printRow("Dispatch", orDefault(cfg.Dispatch.WebhookURL, "(fallback only)"))
	if cfg.Store.PostgresDSN != "" {
		printRow("Persistence", "postgres")
	} else {
		printRow("Persistence", "(disabled)")
	}
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	} else {
		printRow("TLS", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
