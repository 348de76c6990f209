// Package whisper runs speech recognition on whisper.cpp models.
package whisper

import (
	"fmt"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/logger"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/transcription"
)

// Config holds decoding options applied to every context.
type Config struct {
	Language      string // "auto" or an ISO code such as "ru"
	Threads       uint
	Translate     bool
	InitialPrompt string
	Logger        *logger.Logger
}

// Engine is a loaded whisper.cpp model. Each Transcribe call runs in a fresh
// context so no decoder state carries over between requests.
type Engine struct {
	model  whisper.Model
	config Config
	mu     sync.Mutex
	closed bool
	log    *logger.ContextLogger
}

// Open loads the model weights at path.
func Open(path string, config Config) (*Engine, error) {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Language == "" {
		config.Language = "auto"
	}
	log := config.Logger.With("whisper")

	log.Info("Loading Whisper model from %s", path)
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load Whisper model: %w", err)
	}

	if config.Language != "auto" && !model.IsMultilingual() {
		model.Close()
		return nil, fmt.Errorf("model is English-only, cannot use language %q", config.Language)
	}

	log.InfoWithFields("Model loaded", map[string]interface{}{
		"language":     config.Language,
		"threads":      config.Threads,
		"translate":    config.Translate,
		"multilingual": model.IsMultilingual(),
	})

	return &Engine{model: model, config: config, log: log}, nil
}

// Opener adapts Open to transcription.Opener.
func Opener(config Config) transcription.Opener {
	return func(path string) (transcription.Engine, error) {
		engine, err := Open(path, config)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}
}

// Transcribe runs inference over mono 16kHz samples.
func (e *Engine) Transcribe(samples []float32, onSegment func(transcription.Segment)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("engine is closed")
	}
	if len(samples) == 0 {
		return fmt.Errorf("empty audio samples")
	}

	ctx, err := e.model.NewContext()
	if err != nil {
		return fmt.Errorf("failed to create Whisper context: %w", err)
	}

	if err := ctx.SetLanguage(e.config.Language); err != nil {
		return fmt.Errorf("failed to set language %q: %w", e.config.Language, err)
	}
	if e.config.Threads > 0 {
		ctx.SetThreads(e.config.Threads)
	}
	ctx.SetTranslate(e.config.Translate)
	ctx.SetTokenTimestamps(true)
	if e.config.InitialPrompt != "" {
		ctx.SetInitialPrompt(e.config.InitialPrompt)
	}

	count := 0
	err = ctx.Process(samples, nil, func(segment whisper.Segment) {
		count++
		e.log.DebugWithFields("Segment received", map[string]interface{}{
			"segment": count,
			"text":    segment.Text,
			"start":   segment.Start.String(),
			"end":     segment.End.String(),
		})
		if onSegment != nil {
			onSegment(transcription.Segment{
				Text:  segment.Text,
				Start: segment.Start,
				End:   segment.End,
			})
		}
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to process audio: %w", err)
	}

	return nil
}

// Close releases the model.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.model.Close()
}
