package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/averlane/courier/internal/cmd/client"
	serverrun "github.com/averlane/courier/internal/cmd/server"
	cfgpkg "github.com/averlane/courier/internal/config"
	pebblestore "github.com/averlane/courier/internal/storage/pebble"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "courier",
		Short: "Courier runtime CLI",
		Long:  "Courier is the async job and notification fabric. This CLI manages the server and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start courier server (HTTP API, workers, relay)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			redisAddr, _ := cmd.Flags().GetString("redis")

			// Flags overlay the environment so either works.
			if fsyncMode != "" {
				_ = os.Setenv("COURIER_FSYNC", fsyncMode)
			}
			if logLevel != "" {
				_ = os.Setenv("COURIER_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("COURIER_LOG_FORMAT", logFormat)
			}
			if redisAddr != "" {
				_ = os.Setenv("COURIER_REDIS_ADDR", redisAddr)
			}
			cfg, err := cfgpkg.Load()
			if err != nil {
				return err
			}
			mode, err := pebblestore.ParseFsyncMode(cfg.Fsync)
			if err != nil {
				return fmt.Errorf("invalid fsync mode; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:  dataDir,
				HTTPAddr: httpAddr,
				Fsync:    mode,
				Config:   cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "Data directory (default from COURIER_DATA_DIR, else OS-specific application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default from COURIER_HTTP_ADDR or :8080)")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never (default from COURIER_FSYNC or always)")
	serverStartCmd.Flags().String("redis", os.Getenv("COURIER_REDIS_ADDR"), "Redis address for the cross-process bus (empty = in-process)")
	serverStartCmd.Flags().String("log-level", os.Getenv("COURIER_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("COURIER_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// client commands against the HTTP API
	rootCmd.AddCommand(clientcmd.NewJobCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewNotifyCommand(apiURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("COURIER_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
