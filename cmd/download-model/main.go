package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/app"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/config"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New(false).Fatal("Failed to load config: %v", err)
	}

	log := logger.NewWithConfig(logger.Config{
		Level:  logger.ParseLogLevel(cfg.Logging.Level),
		Format: logger.ParseOutputFormat(cfg.Logging.Format),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := app.NewProvisioner(cfg, log, nil)
	if err != nil {
		log.Fatal("Failed to initialize provisioner: %v", err)
	}

	dir, err := p.EnsureAvailable(ctx, cfg.Model)
	if err != nil {
		log.Fatal("Failed to download %s: %v", cfg.Model, err)
	}
	log.Info("Model %s is available in %s", cfg.Model, dir)
}
