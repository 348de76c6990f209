// Package app wires the voice bot together from its configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/api"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/audio"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/bot"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/config"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/logger"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/metrics"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/provision"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/transcription"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/transcriptlog"
)

// Deps are the collaborators that need native libraries or the network.
type Deps struct {
	// Open loads the inference engine.
	Open transcription.Opener
	// Connect authorizes against the messaging platform.
	Connect func(token string) (bot.API, error)
}

// NewProvisioner builds the model provisioner from the config.
func NewProvisioner(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*provision.Provisioner, error) {
	return provision.New(provision.Config{
		RegistryURL: cfg.Provision.RegistryURL,
		Revision:    cfg.Provision.Revision,
		ModelsDir:   cfg.Provision.ModelsDir,
		Artifacts:   cfg.Provision.Artifacts,
		Timeout:     cfg.ProvisionTimeout(),
	}, log, m)
}

// Run starts the bot and the optional API server and blocks until ctx is
// cancelled or either of them fails. Everything it opens is closed before
// it returns.
func Run(ctx context.Context, cfg *config.Config, token string, log *logger.Logger, deps Deps) error {
	if deps.Open == nil || deps.Connect == nil {
		return fmt.Errorf("app requires an engine opener and a connector")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := metrics.New()

	provisioner, err := NewProvisioner(cfg, log, m)
	if err != nil {
		return fmt.Errorf("failed to initialize provisioner: %w", err)
	}

	handle, err := transcription.NewModelHandle(cfg.Model, cfg.Transcription.SampleRate)
	if err != nil {
		return fmt.Errorf("invalid model: %w", err)
	}

	vad := cfg.Transcription.VAD
	transcriber, err := transcription.New(ctx, handle, transcription.Options{
		Provisioner: provisioner,
		Loader: audio.NewLoader(audio.LoaderConfig{
			FFmpegPath:    cfg.Audio.FFmpegPath,
			FFmpegTimeout: cfg.FFmpegTimeout(),
		}),
		Open: deps.Open,
		Chunker: transcription.ChunkerConfig{
			SilenceThreshold:   time.Duration(vad.SilenceThresholdMs) * time.Millisecond,
			MinChunkDuration:   time.Duration(vad.MinChunkDurationMs) * time.Millisecond,
			MaxChunkDuration:   time.Duration(vad.MaxChunkDurationMs) * time.Millisecond,
			VADEnergyThreshold: vad.EnergyThreshold,
		},
		DumpDir: cfg.Transcription.DumpDir,
		Logger:  log,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize transcriber: %w", err)
	}
	defer func() {
		if err := transcriber.Close(); err != nil {
			log.Error("Failed to close transcriber: %v", err)
		}
	}()

	transcripts, err := transcriptlog.New(cfg.Logging.TranscriptLog)
	if err != nil {
		return fmt.Errorf("failed to open transcript log: %w", err)
	}
	defer transcripts.Close()
	if path := transcripts.Path(); path != "" {
		log.Info("Transcript log at %s", path)
	}

	botAPI, err := deps.Connect(token)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}

	b := bot.New(botAPI, transcriber, bot.Config{
		MaxConcurrent:      cfg.Bot.MaxConcurrent,
		RateLimitPerMinute: cfg.Bot.RateLimitPerMinute,
		MaxVoiceDuration:   time.Duration(cfg.Bot.MaxVoiceSeconds) * time.Second,
		RequestTimeout:     cfg.RequestTimeout(),
	}, log, m, transcripts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Stop the API server when polling ends
		defer cancel()
		return b.Run(gctx)
	})

	if cfg.Server.BindAddress != "" {
		server := api.New(api.Config{
			BindAddress:    cfg.Server.BindAddress,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			RequestTimeout: cfg.RequestTimeout(),
			ModelID:        cfg.Model,
		}, transcriber, log, m)
		g.Go(func() error { return server.Run(gctx) })
	}

	return g.Wait()
}
