package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"canvas-sync/internal/app"
	"canvas-sync/internal/blob"
	"canvas-sync/internal/broadcast"
	httpx "canvas-sync/internal/http"
	"canvas-sync/internal/notes"
	"canvas-sync/internal/ws"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	root := newRootCmd()

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (app.Config, error) {
	cfg := app.LoadConfig()
	return cfg, cfg.Validate()
}

// newRootCmd wires serve (the default) and migrate.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "canvas-sync",
		Short:         "Collaborative annotation canvas server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var skipMigrate bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE:  func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context(), !skipMigrate) },
	}
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply migrations / indexes on start")
	root.RunE = serveCmd.RunE
	root.Flags().AddFlagSet(serveCmd.Flags())

	root.AddCommand(
		serveCmd,
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply schema migrations / indexes and exit",
			RunE:  func(cmd *cobra.Command, _ []string) error { return migrate(cmd.Context()) },
		},
	)
	return root
}

func migrate(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Env)
	be, err := openBackend(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	be.close()
	logger.Info("migrate.done", "driver", cfg.StoreDriver)
	return nil
}

func serve(ctx context.Context, migrate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Env)

	be, err := openBackend(ctx, cfg, logger, migrate)
	if err != nil {
		logger.Error("store", "driver", cfg.StoreDriver, "err", err)
		return err
	}
	defer be.close()

	// Redis bus for cross-instance fanout; single instance without it
	var bus ws.Bus
	if cfg.RedisAddr != "" {
		rb, err := ws.NewRedisBus(ctx, cfg, logger)
		if err != nil {
			logger.Error("redis connect", "err", err)
			return err
		}
		defer rb.Close()
		bus = rb
	}

	hub := ws.NewHub(logger, bus)
	hub.ReadLimit = int64(cfg.MaxFrameMiB) << 20
	svc := notes.NewService(be.notes, cfg.SnapshotTTL, logger)
	bc := broadcast.New(hub, svc, logger)
	bc.Attach()
	blobs := blob.NewRouter(be.inline, be.chunked, logger)

	router := httpx.NewRouter(cfg, logger, httpx.Deps{
		Hub:   hub,
		Notes: svc,
		Blobs: blobs,
		Sync:  bc,
		Ready: be.ping,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("server.listening", "addr", cfg.HTTPAddr, "driver", cfg.StoreDriver, "bus", bus != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server.crash", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Wait for shutdown signal
		<-gctx.Done()
		logger.Info("server.shutdown.start")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("server.shutdown.complete")
	_ = os.Stdout.Sync()
	return err
}
