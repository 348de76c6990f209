package audio

import "time"

// Buffer is mono float32 PCM in [-1, 1] at a fixed sample rate.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Seconds is Duration in fractional seconds.
func (b *Buffer) Seconds() float64 {
	return b.Duration().Seconds()
}
