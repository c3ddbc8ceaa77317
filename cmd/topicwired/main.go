package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/topicwire/topicwire/internal/audit"
	"github.com/topicwire/topicwire/internal/backend"
	"github.com/topicwire/topicwire/internal/broker"
	"github.com/topicwire/topicwire/internal/config"
	"github.com/topicwire/topicwire/internal/server"
	"github.com/topicwire/topicwire/internal/sync"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	// Optionally run the broker in-process for self-hosted deployments.
	natsURL := cfg.NatsURL
	var embedded *broker.EmbeddedServer
	if cfg.NatsEmbedded {
		embedded, err = broker.StartEmbedded(broker.EmbeddedConfig{
			StoreDir: cfg.NatsStoreDir,
			Port:     -1,
		})
		if err != nil {
			slog.Error("failed to start embedded NATS server", "error", err)
			os.Exit(1)
		}
		defer embedded.Shutdown()
		natsURL = embedded.ClientURL()
		slog.Info("embedded NATS server started", "url", natsURL)
	}

	bc, err := broker.Connect(natsURL)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer bc.Close()
	slog.Info("connected to NATS", "url", natsURL)

	if err := bc.EnsureStreams(ctx); err != nil {
		slog.Error("failed to setup JetStream streams", "error", err)
		os.Exit(1)
	}

	publisher := broker.NewPublisher(bc.JetStream())
	b := backend.New(publisher)

	// Reconcile the desired-state permissions file, when one is configured.
	// An unknown security name or invalid pattern is a hard startup error.
	if cfg.PermissionsFile != "" {
		if err := syncPermissions(b, cfg.PermissionsFile); err != nil {
			slog.Error("failed to sync permission definitions", "error", err)
			os.Exit(1)
		}
	}

	var trail io.Writer
	if cfg.AuditFile != "" {
		trail = &lumberjack.Logger{
			Filename:   cfg.AuditFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogBackups,
			Compress:   true,
		}
	}
	auditLog := audit.New(trail, 256)

	srv := server.New(cfg, b, bc, auditLog)

	go func() {
		slog.Info("starting server", "port", cfg.Port)
		if err := srv.Start(); err != nil {
			slog.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}

// syncPermissions loads the YAML desired-state file, reconciles it and
// seeds the backend with every active record so credentials arriving over
// the control plane start with their definition's permissions. The
// in-memory store and resolver stand in until an external persistence layer
// is attached; security ids are assigned in file order.
func syncPermissions(b *backend.Backend, path string) error {
	defs, err := sync.LoadDefinitions(path)
	if err != nil {
		return err
	}

	resolver := sync.StaticResolver{}
	for _, def := range defs {
		if _, ok := resolver[def.Security]; !ok {
			resolver[def.Security] = len(resolver) + 1
		}
	}

	syncer := sync.NewSyncer(resolver, sync.NewMemoryStore())
	result, err := syncer.Sync(defs)
	if err != nil {
		return err
	}

	for _, rec := range append(result.Created, result.Updated...) {
		if !rec.IsActive {
			continue
		}
		if err := b.SeedSecurityPermissions(rec.Security, rec.Pattern); err != nil {
			return err
		}
	}

	slog.Info("permission definitions loaded",
		"file", path,
		"created", len(result.Created),
		"updated", len(result.Updated),
	)
	return nil
}

func setupLogging(cfg *config.Config) {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogBackups,
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{}
	switch cfg.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	slog.SetDefault(slog.New(handler))
}
