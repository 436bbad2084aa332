// Command trunkline is the main entry point for the Trunkline call bridge.
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

	"github.com/joho/godotenv"

	"github.com/trunkline/trunkline/internal/bridge"
	"github.com/trunkline/trunkline/internal/config"
	"github.com/trunkline/trunkline/internal/dialer"
	"github.com/trunkline/trunkline/internal/httpapi"
	"github.com/trunkline/trunkline/internal/observe"
	"github.com/trunkline/trunkline/pkg/transport"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// A .env file is optional; carrier credentials usually live there.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "trunkline: load .env: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "trunkline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "trunkline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("trunkline starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "trunkline",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Bridge ────────────────────────────────────────────────────────────────
	registry := bridge.NewRegistry()

	backendURL := cfg.Backend.URL
	backendVoice := cfg.Backend.Voice
	stream := bridge.NewHandler(bridge.HandlerConfig{
		Registry: registry,
		DialBackend: func(ctx context.Context) (transport.MessageConn, error) {
			return transport.DialBackend(ctx, backendURL, backendVoice)
		},
		OpusFramed:       cfg.Backend.Codec == config.CodecOpus,
		HandshakeTimeout: cfg.Backend.HandshakeTimeout,
	})

	// ── HTTP surface ──────────────────────────────────────────────────────────
	api := httpapi.New(cfg, registry, stream, nil)

	// ── Dialer (optional) ─────────────────────────────────────────────────────
	var dial *dialer.Client
	if cfg.Carrier.AuthID != "" && cfg.Carrier.AuthToken != "" && cfg.Carrier.FromNumber != "" {
		dial, err = dialer.New(cfg.Carrier, api.AnswerURL())
		if err != nil {
			slog.Error("failed to create dialer", "err", err)
			return 1
		}
		api = httpapi.New(cfg, registry, stream, dial)
		slog.Info("dialer configured", "from", cfg.Carrier.FromNumber)
	} else {
		slog.Warn("dialer disabled — carrier credentials or from_number missing")
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, dial != nil)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…", "active_calls", registry.Len())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, dialerEnabled bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Trunkline — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Listen addr", cfg.Server.ListenAddr)
	printField("Public host", cfg.Server.PublicHost)
	printField("Backend", cfg.Backend.URL)
	codec := string(cfg.Backend.Codec)
	if codec == "" {
		codec = string(config.CodecPCM)
	}
	printField("Backend codec", codec)
	printField("Voice", cfg.Backend.Voice)
	if dialerEnabled {
		printField("Dialer", "enabled")
	} else {
		printField("Dialer", "(disabled)")
	}
	if cfg.Server.TLS != nil {
		printField("TLS", "enabled")
	} else {
		printField("TLS", "(plain http)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", name, value)
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
