// syncd runs the local sync connector without the desktop shell: it opens
// the local database, keeps it connected to the remote backend and uploads
// queued mutations until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"contextsync/internal/config"
	"contextsync/internal/lifecycle"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	var (
		dataDir      string
		logFile      string
		syncInterval time.Duration
		once         bool
	)
	flagSet := pflag.NewFlagSet("syncd", pflag.ContinueOnError)
	flagSet.StringVar(&dataDir, "data-dir", "", "directory holding the local database (default: $CTX_DATA_DIR or ./data)")
	flagSet.StringVar(&logFile, "log-file", "", "also write JSON logs to this file, rotated (default: <data-dir>/syncd.log)")
	flagSet.DurationVar(&syncInterval, "sync-interval", 30*time.Second, "upload interval when no local write triggers one")
	flagSet.BoolVar(&once, "once", false, "upload everything pending once and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logFile == "" {
		logFile = filepath.Join(cfg.DataDir, "syncd.log")
	}

	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     14,
	}
	defer rotating.Close()
	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stderr, rotating), nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := lifecycle.New(cfg, lifecycle.Options{
		SyncInterval: syncInterval,
		Logger:       logger,
	})
	db, err := manager.Init(ctx)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()

	if once {
		// The background engine is not needed for a one-shot upload.
		db.Disconnect()
		conn, err := manager.Connector()
		if err != nil {
			return err
		}
		if err := db.Sync(ctx, conn); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		logger.Info("sync complete", "pending", db.Status(ctx).Pending)
		return nil
	}

	logger.Info("syncd running", "data_dir", cfg.DataDir, "interval", syncInterval.String())
	<-ctx.Done()
	logger.Info("shutting down", "status", fmt.Sprintf("%+v", db.Status(context.Background())))
	return nil
}
