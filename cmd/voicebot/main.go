package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/app"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/bot"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/config"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/logger"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/whisper"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	// Load .env if present; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New(false).Fatal("Failed to load config: %v", err)
	}

	log := logger.NewWithConfig(logger.Config{
		Level:  logger.ParseLogLevel(cfg.Logging.Level),
		Format: logger.ParseOutputFormat(cfg.Logging.Format),
	})
	log.Info("Starting voice recognizer bot")
	log.Info("Config: model=%s, language=%s, bind_address=%q", cfg.Model, cfg.Transcription.Language, cfg.Server.BindAddress)

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = app.Run(ctx, cfg, token, log, app.Deps{
		Open: whisper.Opener(whisper.Config{
			Language:      cfg.Transcription.Language,
			Threads:       uint(cfg.Transcription.Threads),
			Translate:     cfg.Transcription.Translate,
			InitialPrompt: cfg.Transcription.InitialPrompt,
			Logger:        log,
		}),
		Connect: func(token string) (bot.API, error) {
			botAPI, err := tgbotapi.NewBotAPI(token)
			if err != nil {
				return nil, err
			}
			log.Info("Authorized as @%s", botAPI.Self.UserName)
			return botAPI, nil
		},
	})
	stop()
	if err != nil {
		log.Fatal("Bot stopped with error: %v", err)
	}
	log.Info("Bot stopped")
}
