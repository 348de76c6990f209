package transcription

import (
	"time"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/audio"
)

// ChunkerConfig holds configuration for VAD-based chunking
type ChunkerConfig struct {
	SilenceThreshold   time.Duration // Duration of silence that allows a cut (1s)
	MinChunkDuration   time.Duration // Minimum chunk duration (avoid tiny chunks)
	MaxChunkDuration   time.Duration // Maximum chunk duration (whisper window)
	VADEnergyThreshold float64       // Energy threshold for VAD
}

// Chunk is a contiguous slice of the input.
type Chunk struct {
	Offset  time.Duration
	Samples []float32
	// Speech is the amount of audio the VAD classified as speech.
	Speech time.Duration
}

// Chunker cuts decoded audio at silences so each piece fits the model window.
type Chunker struct {
	config ChunkerConfig
}

// NewChunker creates a chunker, filling unset fields with defaults.
func NewChunker(config ChunkerConfig) *Chunker {
	if config.SilenceThreshold <= 0 {
		config.SilenceThreshold = 1 * time.Second
	}
	if config.MinChunkDuration <= 0 {
		config.MinChunkDuration = 500 * time.Millisecond
	}
	if config.MaxChunkDuration <= 0 {
		config.MaxChunkDuration = 30 * time.Second
	}
	if config.VADEnergyThreshold <= 0 {
		config.VADEnergyThreshold = 100.0
	}
	return &Chunker{config: config}
}

// Config returns the effective configuration.
func (c *Chunker) Config() ChunkerConfig {
	return c.config
}

// Split returns contiguous chunks covering samples in order. A buffer no
// longer than MaxChunkDuration comes back as a single chunk.
func (c *Chunker) Split(samples []float32, sampleRate int) []Chunk {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}

	vad := audio.NewVAD(audio.VADConfig{
		SampleRate:         sampleRate,
		FrameDurationMs:    10,
		EnergyThreshold:    c.config.VADEnergyThreshold,
		SilenceThresholdMs: int(c.config.SilenceThreshold.Milliseconds()),
	})
	frameSize := vad.FrameSize()

	maxSamples := durationToSamples(c.config.MaxChunkDuration, sampleRate)
	minSamples := durationToSamples(c.config.MinChunkDuration, sampleRate)
	if maxSamples < frameSize {
		maxSamples = frameSize
	}

	if len(samples) <= maxSamples {
		for offset := 0; offset < len(samples); offset += frameSize {
			vad.ProcessFrame(samples[offset:min(offset+frameSize, len(samples))])
		}
		return []Chunk{{Samples: samples, Speech: vad.SpeechDuration()}}
	}

	var chunks []Chunk
	start := 0

	cut := func(end int) {
		chunks = append(chunks, Chunk{
			Offset:  samplesToDuration(start, sampleRate),
			Samples: samples[start:end],
			Speech:  vad.SpeechDuration(),
		})
		start = end
		vad.Reset()
	}

	for offset := 0; offset < len(samples); offset += frameSize {
		end := min(offset+frameSize, len(samples))
		vad.ProcessFrame(samples[offset:end])

		length := end - start
		switch {
		case length >= maxSamples:
			cut(end)
		case vad.ShouldChunk() && length >= minSamples:
			cut(end)
		}
	}

	if start < len(samples) {
		cut(len(samples))
	}

	return chunks
}

func durationToSamples(d time.Duration, sampleRate int) int {
	return int(d.Seconds() * float64(sampleRate))
}

func samplesToDuration(n, sampleRate int) time.Duration {
	return time.Duration(float64(n) / float64(sampleRate) * float64(time.Second))
}
