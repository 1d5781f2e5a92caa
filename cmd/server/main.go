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

	"golang.org/x/sync/errgroup"

	"github.com/i5heu/cipherroom/internal/config"
	"github.com/i5heu/cipherroom/internal/roomStore"
	"github.com/i5heu/cipherroom/pkg/apiServer"
	"github.com/i5heu/cipherroom/pkg/logging"
	"github.com/i5heu/cipherroom/pkg/relay"
)

const (
	logKeyListenAddr = "listenAddr"
	logKeyDBPath     = "dbPath"
	logKeyConfig     = "config"
	logKeySignal     = "signal"
	logKeyError      = "error"
)

const shutdownTimeout = 10 * time.Second

func main() { // A
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	flags.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Log.Level), cfg.Log.NoColor)
	slog.SetDefault(logger)

	logger.InfoContext(context.Background(), "starting cipherroom server",
		logKeyListenAddr, cfg.Listen,
		logKeyDBPath, cfg.Database.Path,
		logKeyConfig, flags.configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.InfoContext(ctx, "received shutdown signal", logKeySignal, sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.ErrorContext(context.Background(), "server error", logKeyError, err)
		os.Exit(1)
	}
}

// serverFlags holds the parsed command line. Set flags override the file.
type serverFlags struct { // A
	configPath string
	listen     string
	dbPath     string
	debug      bool
}

func parseFlags() serverFlags { // A
	f := serverFlags{}

	flag.StringVar(&f.configPath, "config", "",
		"Path to YAML configuration file")
	flag.StringVar(&f.listen, "listen", "",
		"Address to serve HTTP and websocket on (overrides config)")
	flag.StringVar(&f.dbPath, "db", "",
		"Path to the sqlite database (overrides config)")
	flag.BoolVar(&f.debug, "debug", false,
		"Enable debug logging")

	flag.Parse()
	return f
}

func (f serverFlags) apply(cfg *config.Config) {
	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if f.dbPath != "" {
		cfg.Database.Path = f.dbPath
	}
	if f.debug {
		cfg.Log.Level = "debug"
	}
}

// run wires the store, relay and API and serves until ctx is done.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error { // A
	store, err := roomStore.Open(roomStore.Config{
		Path:       cfg.Database.Path,
		BcryptCost: cfg.Database.BcryptCost,
		Logger:     logger,
		LogSQL:     cfg.Database.LogSQL,
	})
	if err != nil {
		return fmt.Errorf("open room store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close room store", logKeyError, err)
		}
	}()

	hub, err := relay.New(relay.Config{
		Store:         store,
		Registry:      relay.NewRegistry(),
		Logger:        logger.With("component", "relay"),
		PingInterval:  cfg.Relay.PingInterval,
		WriteTimeout:  cfg.Relay.WriteTimeout,
		ReadTimeout:   cfg.Relay.ReadTimeout,
		SendBuffer:    cfg.Relay.SendBuffer,
		MaxFrameBytes: cfg.Relay.MaxFrameBytes,

		AllowedOrigins: cfg.Relay.AllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("create relay: %w", err)
	}

	api := apiServer.New(store,
		apiServer.WithLogger(logger.With("component", "api")),
		apiServer.WithRelay(hub.Handler()),
	)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(gctx, "listening", logKeyListenAddr, cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// hijacked websocket connections are not tracked by Shutdown
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	})

	return g.Wait()
}
