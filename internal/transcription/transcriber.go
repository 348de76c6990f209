// Package transcription turns audio files into text using a loaded model.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/audio"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/logger"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/metrics"
)

// ErrClosed is returned by calls on a closed Transcriber.
var ErrClosed = errors.New("transcriber is closed")

// Engine runs speech recognition on mono PCM at the model sample rate.
type Engine interface {
	Transcribe(samples []float32, onSegment func(Segment)) error
	Close() error
}

// Opener loads an engine from a weights file.
type Opener func(weightsPath string) (Engine, error)

// Provisioner makes model files available locally.
type Provisioner interface {
	EnsureAvailable(ctx context.Context, modelID string) (string, error)
	WeightsPath(localDir string) string
}

// AudioLoader decodes an audio file at a target sample rate.
type AudioLoader interface {
	Load(ctx context.Context, path string, targetRate int) (*audio.Buffer, error)
}

// Options wires the collaborators of a Transcriber.
type Options struct {
	Provisioner Provisioner
	Loader      AudioLoader
	Open        Opener
	Chunker     ChunkerConfig
	// DumpDir receives a WAV copy of every decoded input when set.
	DumpDir string
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Transcriber owns one loaded model. Calls are serialized.
type Transcriber struct {
	handle  ModelHandle
	engine  Engine
	loader  AudioLoader
	chunker *Chunker
	dumpDir string
	log     *logger.ContextLogger
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
}

// New provisions the model behind handle and loads it.
func New(ctx context.Context, handle ModelHandle, opts Options) (*Transcriber, error) {
	if handle.ID() == "" || handle.SampleRate() <= 0 {
		return nil, ErrInvalidHandle
	}
	if opts.Provisioner == nil || opts.Loader == nil || opts.Open == nil {
		return nil, fmt.Errorf("transcriber requires a provisioner, a loader and an opener")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	log := opts.Logger.With("transcriber")

	dir, err := opts.Provisioner.EnsureAvailable(ctx, handle.ID())
	if err != nil {
		return nil, err
	}

	weights := opts.Provisioner.WeightsPath(dir)
	start := time.Now()
	engine, err := opts.Open(weights)
	if err != nil {
		return nil, &InferenceError{Op: "load", ModelID: handle.ID(), Err: err}
	}

	log.InfoWithFields("Model ready", map[string]interface{}{
		"model":       handle.ID(),
		"weights":     weights,
		"sample_rate": handle.SampleRate(),
		"load_ms":     time.Since(start).Milliseconds(),
	})

	return &Transcriber{
		handle:  handle,
		engine:  engine,
		loader:  opts.Loader,
		chunker: NewChunker(opts.Chunker),
		dumpDir: opts.DumpDir,
		log:     log,
		metrics: opts.Metrics,
	}, nil
}

// Handle returns the model handle this Transcriber is bound to.
func (t *Transcriber) Handle() ModelHandle {
	return t.handle
}

// Transcribe decodes the file at audioPath and returns all recognized segments.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	result := &Result{}
	audioDur, err := t.run(ctx, audioPath, func(s Segment) {
		result.Segments = append(result.Segments, s)
	})
	result.Audio = audioDur
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TranscribeStream is Transcribe delivering segments as they are produced.
func (t *Transcriber) TranscribeStream(ctx context.Context, audioPath string, onSegment func(Segment)) error {
	_, err := t.run(ctx, audioPath, onSegment)
	return err
}

func (t *Transcriber) run(ctx context.Context, audioPath string, emit func(Segment)) (time.Duration, error) {
	start := time.Now()

	buf, err := t.loader.Load(ctx, audioPath, t.handle.SampleRate())
	if err != nil {
		t.metrics.ObserveTranscription(metrics.ResultDecodeError, time.Since(start).Seconds(), 0)
		return 0, err
	}

	if t.dumpDir != "" {
		t.dump(buf)
	}

	chunks := t.chunker.Split(buf.Samples, buf.SampleRate)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return buf.Duration(), &InferenceError{Op: "transcribe", ModelID: t.handle.ID(), Err: ErrClosed}
	}

	segments := 0
	skipped := 0
	// A sole chunk is always transcribed. Only pieces cut out of a longer
	// buffer are skipped when the VAD found no speech in them.
	split := len(chunks) > 1
	for i, chunk := range chunks {
		if split && chunk.Speech == 0 {
			skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return buf.Duration(), err
		}

		err := t.infer(chunk.Samples, func(s Segment) {
			segments++
			s.Start += chunk.Offset
			s.End += chunk.Offset
			if emit != nil {
				emit(s)
			}
		})
		if err != nil {
			t.metrics.ObserveTranscription(metrics.ResultInferenceErr, time.Since(start).Seconds(), buf.Seconds())
			t.log.ErrorWithFields("Inference failed", map[string]interface{}{
				"chunk": i,
				"error": err.Error(),
			})
			return buf.Duration(), &InferenceError{Op: "transcribe", ModelID: t.handle.ID(), Err: err}
		}
	}

	elapsed := time.Since(start)
	t.metrics.ObserveTranscription(metrics.ResultSuccess, elapsed.Seconds(), buf.Seconds())
	t.log.DebugWithFields("Transcription complete", map[string]interface{}{
		"audio_seconds": buf.Seconds(),
		"chunks":        len(chunks),
		"silent_chunks": skipped,
		"segments":      segments,
		"elapsed_ms":    elapsed.Milliseconds(),
	})

	return buf.Duration(), nil
}

// infer calls the engine, turning panics into errors.
func (t *Transcriber) infer(samples []float32, onSegment func(Segment)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return t.engine.Transcribe(samples, onSegment)
}

func (t *Transcriber) dump(buf *audio.Buffer) {
	name := fmt.Sprintf("input-%s-%s.wav", time.Now().Format("20060102-150405"), uuid.New().String()[:8])
	path := filepath.Join(t.dumpDir, name)
	if err := audio.WriteWAV(path, buf); err != nil {
		t.log.Warn("Failed to save debug WAV: %v", err)
		return
	}
	t.log.Debug("Saved input to %s", path)
}

// Close releases the engine. Later calls fail with ErrClosed.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.engine.Close()
}
