package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/recoverybot/internal/api"
	"github.com/wesm/recoverybot/internal/scheduler"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled token refresh",
	Long: `Run recoverybot as a long-running daemon.

The daemon runs in the foreground and performs:
  - HTTP API server on the configured port (default: 3035)
  - Scheduled proactive token refresh for the configured identities

Configure the refresh schedule in config.toml:
  [tokens]
  refresh_schedule = "*/10 * * * *"   # cron format, empty disables

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if n, err := a.store.PurgeExpiredStates(ctx); err != nil {
		log.Warn("purge expired oauth states", zap.Error(err))
	} else if n > 0 {
		log.Info("purged expired oauth states", zap.Int64("count", n))
	}

	refresh := &scheduler.ProactiveRefresh{
		Tokens:    a.tokens,
		Refresher: a.oauth,
		Warning:   cfg.RefreshWarning(),
		Logger:    log.Named("refresh"),
	}
	sched := scheduler.New(refresh.Func()).WithLogger(log.Named("scheduler"))
	count, err := sched.AddFromConfig(cfg)
	if err != nil {
		log.Error("failed to schedule refresh", zap.Error(err))
	}

	server := api.NewServer(cfg, api.Deps{
		Recovery:    a.service,
		Auth:        a.oauth,
		Credentials: a.tokens,
		Scheduler:   sched,
	}, log.Named("api"))

	sched.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("API server shutdown error", zap.Error(err))
		}

		select {
		case <-sched.Stop().Done():
		case <-time.After(30 * time.Second):
			log.Warn("scheduler shutdown timed out")
		}
		return nil
	})

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("recoverybot daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Scheduled identities: %d\n", count)
	fmt.Printf("  Data directory: %s\n", cfg.Data.DataDir)
	for _, status := range sched.Status() {
		fmt.Printf("  %s: next refresh check at %s\n", status.Identity, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	err = g.Wait()
	fmt.Println("Shutdown complete.")
	if err != nil {
		return err
	}
	// A signal is a clean stop for the daemon.
	return nil
}
