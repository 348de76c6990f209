package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV stores the buffer as a 16-bit mono PCM WAV file.
func WriteWAV(path string, buf *Buffer) error {
	if buf == nil || buf.SampleRate <= 0 {
		return fmt.Errorf("invalid buffer")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		data[i] = int(floatToInt16(s))
	}

	enc := wav.NewEncoder(f, buf.SampleRate, 16, 1, 1)
	ib := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(ib); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}

	return f.Close()
}

// wavPCMFormat is the WAVE_FORMAT_PCM tag. Float and compressed WAVs are left
// to ffmpeg.
const wavPCMFormat = 1

// decodeWAV reads an integer PCM WAV, scaling samples to full range by their
// bit depth and averaging channels to mono.
func decodeWAV(r io.ReadSeeker) (*Buffer, error) {
	d := wav.NewDecoder(r)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("failed to read wav header: %w", err)
	}
	if d.NumChans < 1 || d.SampleRate == 0 {
		return nil, errors.New("invalid wav header")
	}
	if d.BitDepth < 8 || d.BitDepth > 32 {
		return nil, fmt.Errorf("unsupported wav bit depth %d", d.BitDepth)
	}
	if d.WavAudioFormat != wavPCMFormat {
		return nil, fmt.Errorf("%w: wav format tag %d", ErrUnsupportedFormat, d.WavAudioFormat)
	}

	ib, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read wav samples: %w", err)
	}
	if ib == nil {
		return nil, errors.New("wav data chunk not found")
	}

	samples := intToMono(ib.Data, int(d.NumChans), int(d.BitDepth))
	return &Buffer{Samples: samples, SampleRate: int(d.SampleRate)}, nil
}

// intToMono converts interleaved integer PCM to mono float32 in [-1, 1].
// 8-bit WAV samples are unsigned.
func intToMono(data []int, channels, bitDepth int) []float32 {
	scale := float64(int64(1) << (bitDepth - 1))
	offset := 0.0
	if bitDepth == 8 {
		offset = 128
	}

	out := make([]float32, len(data)/channels)
	for i := range out {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += (float64(data[i*channels+c]) - offset) / scale
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}
