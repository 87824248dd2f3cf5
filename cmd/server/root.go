package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/chatrelay/internal/retention"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/store"
	"github.com/Tyrowin/chatrelay/internal/worker"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"
)

// Execute runs the chatrelay command line.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	serveCmd := newServeCmd()
	rootCmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Real-time websocket chat relay",
		Long:          "chatrelay accepts websocket connections on /ws/{user}, relays every message to all connected users and replays today's history to newcomers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}

	rootCmd.AddCommand(serveCmd, newSweepCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge messages older than today and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sweepOnce(cmd.Context(), cmd)
		},
	}
}

// environment is what both subcommands need before doing any work.
type environment struct {
	app    appConfig
	log    *slog.Logger
	store  *store.BadgerStore
	closer func()
}

func setup() (*environment, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	app, err := loadAppConfig()
	if err != nil {
		return nil, err
	}
	log := logs.GetLoggerFromString(app.LogLevel)

	opts := badger.DefaultOptions(app.BadgerPath).WithLoggingLevel(badger.WARNING)
	if app.BadgerInMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("database opening failed: %w", err)
	}

	messages, err := store.NewBadgerStore(db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &environment{
		app:   app,
		log:   log,
		store: messages,
		closer: func() {
			log.Info("Closing BadgerDB...")
			if err := messages.Close(); err != nil {
				log.Warn("Error releasing message sequence", "error", err)
			}
			_ = db.Close()
		},
	}, nil
}

// serve initializes all components, runs the relay until a signal arrives and
// shuts everything down in order: HTTP listener, live connections, background
// workers, database.
func serve(parent context.Context) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.closer()
	log := e.log

	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	schedule, err := retention.ParseSchedule(e.app.RetentionSweepAt)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub(*cfg, server.NewRegistry(), e.store, log)

	sup := worker.NewSupervisor(log, e.app.RestartInterval).
		Add(retention.NewSweeper(e.store, log, schedule))
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		sup.Run(ctx)
	}()

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub, *cfg, log))
	errChan := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer, log); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case serveErr = <-errChan:
		log.Error("HTTP server stopped unexpectedly", "error", serveErr)
	}

	if err := server.ShutdownServer(httpServer, e.app.ShutdownTimeout, log); err != nil {
		log.Warn("HTTP server did not shut down cleanly", "error", err)
	}
	if err := hub.Shutdown(e.app.ShutdownTimeout); err != nil {
		log.Warn("Hub did not shut down cleanly", "error", err)
	}
	sup.Stop()
	<-supervisorDone

	log.Info("Program stopped cleanly")
	return serveErr
}

// sweepOnce runs a single retention purge, for use from an external scheduler.
func sweepOnce(ctx context.Context, cmd *cobra.Command) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.closer()

	purged, err := retention.NewSweeper(e.store, e.log, retention.DefaultSchedule).Sweep(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "purged %d messages\n", purged)
	return nil
}
