package audio

import (
	"math"
	"time"
)

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	SampleRate         int     // Audio sample rate (16kHz)
	FrameDurationMs    int     // Frame duration in milliseconds (10ms)
	EnergyThreshold    float64 // RMS energy threshold in int16 units
	SilenceThresholdMs int     // Silence duration that marks a boundary (1000ms)
}

// VoiceActivityDetector classifies fixed-size frames as speech or silence
// by RMS energy.
type VoiceActivityDetector struct {
	config          VADConfig
	samplesPerFrame int
	silenceDuration time.Duration
	speechDuration  time.Duration
	speaking        bool
}

// NewVAD creates a new Voice Activity Detector
func NewVAD(config VADConfig) *VoiceActivityDetector {
	if config.SampleRate == 0 {
		config.SampleRate = 16000
	}
	if config.FrameDurationMs == 0 {
		config.FrameDurationMs = 10
	}
	if config.EnergyThreshold == 0 {
		config.EnergyThreshold = 100.0
	}
	if config.SilenceThresholdMs == 0 {
		config.SilenceThresholdMs = 1000
	}

	samplesPerFrame := config.SampleRate * config.FrameDurationMs / 1000
	if samplesPerFrame < 1 {
		samplesPerFrame = 1
	}

	return &VoiceActivityDetector{
		config:          config,
		samplesPerFrame: samplesPerFrame,
	}
}

// FrameSize is the number of samples ProcessFrame expects per call.
func (v *VoiceActivityDetector) FrameSize() int {
	return v.samplesPerFrame
}

// FrameDuration is the playback length of one frame.
func (v *VoiceActivityDetector) FrameDuration() time.Duration {
	return time.Duration(v.config.FrameDurationMs) * time.Millisecond
}

// ProcessFrame analyzes a single audio frame.
// Returns true if speech is detected, false if silence.
func (v *VoiceActivityDetector) ProcessFrame(samples []float32) bool {
	if len(samples) == 0 {
		return false
	}

	isSpeech := Energy(samples) > v.config.EnergyThreshold
	frameDuration := v.FrameDuration()

	if isSpeech {
		v.speechDuration += frameDuration
		v.silenceDuration = 0
	} else {
		v.silenceDuration += frameDuration
	}
	v.speaking = isSpeech

	return isSpeech
}

// Energy computes the RMS energy of float samples scaled to int16 units.
func Energy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sumSquares float64
	for _, s := range samples {
		val := float64(s) * 32768.0
		sumSquares += val * val
	}

	return math.Sqrt(sumSquares / float64(len(samples)))
}

// ShouldChunk reports whether enough trailing silence has accumulated to
// mark a boundary.
func (v *VoiceActivityDetector) ShouldChunk() bool {
	threshold := time.Duration(v.config.SilenceThresholdMs) * time.Millisecond
	return v.silenceDuration >= threshold
}

// SilenceDuration returns the current run of silence.
func (v *VoiceActivityDetector) SilenceDuration() time.Duration {
	return v.silenceDuration
}

// SpeechDuration returns the accumulated speech since the last reset.
func (v *VoiceActivityDetector) SpeechDuration() time.Duration {
	return v.speechDuration
}

// IsSpeaking returns true if the last frame was speech.
func (v *VoiceActivityDetector) IsSpeaking() bool {
	return v.speaking
}

// Reset clears the VAD state
func (v *VoiceActivityDetector) Reset() {
	v.silenceDuration = 0
	v.speechDuration = 0
	v.speaking = false
}
