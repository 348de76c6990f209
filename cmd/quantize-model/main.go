package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/app"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/config"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/logger"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/quantize"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/whisper"
)

func main() {
	cfg, err := config.Load(config.DefaultPath)
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

	result, err := quantize.Run(ctx, quantize.Config{
		SourceModel: cfg.Quantize.SourceModel,
		ToolPath:    cfg.Quantize.ToolPath,
		Type:        cfg.Quantize.Type,
		OutputDir:   cfg.Quantize.OutputDir,
		Open: whisper.Opener(whisper.Config{
			Language: cfg.Transcription.Language,
			Threads:  uint(cfg.Transcription.Threads),
			Logger:   log,
		}),
		Logger: log,
	}, p)
	if err != nil {
		log.Fatal("Quantization failed: %v", err)
	}
	log.Info("Quantized model ready at %s", result.Weights)
}
