package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnergy(t *testing.T) {
	assert.Equal(t, 0.0, Energy(nil))
	assert.Equal(t, 0.0, Energy(make([]float32, 160)))

	frame := make([]float32, 160)
	for i := range frame {
		frame[i] = 0.5
	}
	assert.InDelta(t, 16384, Energy(frame), 0.01)
}

func TestVADSilenceTriggersChunk(t *testing.T) {
	vad := NewVAD(VADConfig{SampleRate: 16000, SilenceThresholdMs: 100})
	assert.Equal(t, 160, vad.FrameSize())

	loud := sine(16000, 0.01, 440, 0.5)
	quiet := make([]float32, vad.FrameSize())

	assert.True(t, vad.ProcessFrame(loud))
	assert.True(t, vad.IsSpeaking())

	for i := 0; i < 9; i++ {
		assert.False(t, vad.ProcessFrame(quiet))
	}
	assert.False(t, vad.ShouldChunk())

	vad.ProcessFrame(quiet)
	assert.True(t, vad.ShouldChunk())
	assert.Equal(t, 100*time.Millisecond, vad.SilenceDuration())
	assert.Equal(t, 10*time.Millisecond, vad.SpeechDuration())

	vad.ProcessFrame(loud)
	assert.False(t, vad.ShouldChunk())

	vad.Reset()
	assert.Equal(t, time.Duration(0), vad.SpeechDuration())
	assert.False(t, vad.IsSpeaking())
}

func TestVADThreshold(t *testing.T) {
	vad := NewVAD(VADConfig{EnergyThreshold: 1000})

	// 0.01 full scale is roughly 230 in int16 RMS.
	faint := sine(16000, 0.01, 440, 0.01)
	assert.False(t, vad.ProcessFrame(faint))

	strong := sine(16000, 0.01, 440, 0.2)
	assert.True(t, vad.ProcessFrame(strong))
	assert.False(t, vad.ProcessFrame(nil))
}
