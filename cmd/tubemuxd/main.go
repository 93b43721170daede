// Command tubemuxd runs the tubemux job daemon and its HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tubemux/internal/config"
	"tubemux/internal/daemon"
	"tubemux/internal/jobs"
	"tubemux/internal/logging"
	"tubemux/internal/workflow"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: load .env: %v\n", err)
		}
	}

	var configPath string
	cmd := &cobra.Command{
		Use:           "tubemuxd",
		Short:         "Run the tubemux daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath, nil)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run starts the daemon and blocks until ctx ends. onReady, when set, is
// called once the API is serving.
func run(ctx context.Context, configPath string, onReady func(*daemon.Daemon)) error {
	cfg, _, _, err := config.Load(strings.TrimSpace(configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := jobs.Open(cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}

	mgr, err := workflow.NewManager(cfg, store, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("create workflow manager: %w", err)
	}

	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if onReady != nil {
		onReady(d)
	}

	<-ctx.Done()
	logger.Info("tubemuxd shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}
