package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/config"
	"github.com/JakeFAU/anime-guide-crawler/internal/logging"
	"github.com/JakeFAU/anime-guide-crawler/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Run a single crawl cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, *once); err != nil {
		logger.Error("animeguide exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if !once {
		return app.Run(ctx)
	}

	defer app.Close()
	summary, err := app.Runner().RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("crawl run: %w", err)
	}
	logger.Info("crawl run finished",
		zap.String("run_id", summary.RunID),
		zap.String("status", string(summary.Status)),
		zap.Int("discovered", summary.Discovered),
		zap.Int("failed", summary.Failed),
	)
	return nil
}
