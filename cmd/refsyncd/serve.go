package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/robosync/refsync/internal/config"
	"github.com/robosync/refsync/internal/logging"
	"github.com/robosync/refsync/internal/server"
	"github.com/robosync/refsync/internal/storage/sqlite"
)

var (
	listenAddr string
	dataDir    string
	verbose    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP+websocket sync server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "override server.listen_addr")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "override server.data_dir")
	serveCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, v, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	if dataDir != "" {
		cfg.Server.DataDir = dataDir
	}

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	logger, err := logging.New(logging.Options{Format: logging.FormatConsole, Level: level, Name: "refsyncd"})
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := sqlite.Open(filepath.Join(cfg.Server.DataDir, "refsync.db"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	directory, err := server.LoadDirectory(store)
	if err != nil {
		return fmt.Errorf("load directory: %w", err)
	}
	registry := server.NewRegistry(store, logger, cfg.Server.IdleTimeout)
	srv := server.NewServer(registry, directory, logger, cfg.Server.ClockSkew, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.Router(),
	}

	config.WatchReload(v, cfg, func() {
		logger.Infow("config reloaded", "listen_addr", cfg.Server.ListenAddr)
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("listening", "addr", cfg.Server.ListenAddr, "data_dir", cfg.Server.DataDir)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Infow("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
