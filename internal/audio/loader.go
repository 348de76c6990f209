package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
)

// Container formats recognized by Sniff.
const (
	FormatWAV     = "wav"
	FormatFLAC    = "flac"
	FormatVorbis  = "vorbis"
	FormatOpus    = "opus"
	FormatMP3     = "mp3"
	FormatUnknown = "unknown"
)

const sniffLen = 64

// LoaderConfig configures audio decoding.
type LoaderConfig struct {
	// FFmpegPath is the ffmpeg binary used for opus and unknown containers.
	// Empty disables the fallback.
	FFmpegPath    string
	FFmpegTimeout time.Duration
}

// Loader decodes audio files into mono PCM. It holds no mutable state and is
// safe for concurrent use.
type Loader struct {
	config LoaderConfig
}

// NewLoader creates a loader
func NewLoader(config LoaderConfig) *Loader {
	if config.FFmpegTimeout <= 0 {
		config.FFmpegTimeout = 60 * time.Second
	}
	return &Loader{config: config}
}

// Load decodes the file at path and resamples it to targetRate.
func (l *Loader) Load(ctx context.Context, path string, targetRate int) (*Buffer, error) {
	if targetRate <= 0 {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("invalid target sample rate %d", targetRate)}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if n == 0 {
		return nil, &DecodeError{Path: path, Err: ErrEmptyFile}
	}

	format := Sniff(header[:n])

	var buf *Buffer
	switch format {
	case FormatWAV, FormatFLAC, FormatVorbis, FormatMP3:
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, &DecodeError{Path: path, Format: format, Err: err}
		}
		if format == FormatWAV {
			buf, err = decodeWAV(f)
		} else {
			buf, err = decodeBeep(f, format)
		}
		if err == nil {
			buf = &Buffer{Samples: Resample(buf.Samples, buf.SampleRate, targetRate), SampleRate: targetRate}
		}
	default:
		err = ErrUnsupportedFormat
	}

	// Containers the native decoders reject as unsupported get a second
	// chance through ffmpeg.
	if errors.Is(err, ErrUnsupportedFormat) && l.config.FFmpegPath != "" {
		buf, err = l.decodeFFmpeg(ctx, path, targetRate)
	}
	if err != nil {
		return nil, &DecodeError{Path: path, Format: format, Err: err}
	}

	if len(buf.Samples) == 0 {
		return nil, &DecodeError{Path: path, Format: format, Err: ErrNoSamples}
	}

	return buf, nil
}

// Sniff identifies the container from the leading bytes of a file.
func Sniff(header []byte) string {
	switch {
	case len(header) >= 12 && bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(header, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(header, []byte("OggS")):
		if bytes.Contains(header, []byte("OpusHead")) {
			return FormatOpus
		}
		if bytes.Contains(header, []byte("\x01vorbis")) {
			return FormatVorbis
		}
		return FormatUnknown
	case bytes.HasPrefix(header, []byte("ID3")):
		return FormatMP3
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return FormatUnknown
}

func decodeBeep(f *os.File, format string) (*Buffer, error) {
	var (
		streamer beep.StreamSeekCloser
		fmtInfo  beep.Format
		err      error
	)

	// The mp3 and vorbis decoders take ownership of the reader. The file is
	// closed by Load, so hand them a non-closing wrapper.
	rc := io.NopCloser(f)

	switch format {
	case FormatFLAC:
		streamer, fmtInfo, err = flac.Decode(f)
	case FormatMP3:
		streamer, fmtInfo, err = mp3.Decode(rc)
	case FormatVorbis:
		streamer, fmtInfo, err = vorbis.Decode(rc)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	defer streamer.Close()

	rate := int(fmtInfo.SampleRate)
	if rate <= 0 {
		return nil, fmt.Errorf("invalid source sample rate %d", rate)
	}

	samples, err := drain(streamer, fmtInfo.NumChannels)
	if err != nil {
		return nil, err
	}

	return &Buffer{Samples: samples, SampleRate: rate}, nil
}

// drain reads a streamer to the end, averaging stereo frames to mono.
func drain(s beep.Streamer, channels int) ([]float32, error) {
	frames := make([][2]float64, 4096)
	var out []float32

	for {
		n, ok := s.Stream(frames)
		for i := 0; i < n; i++ {
			if channels == 1 {
				out = append(out, float32(frames[i][0]))
			} else {
				out = append(out, float32((frames[i][0]+frames[i][1])/2))
			}
		}
		if !ok {
			break
		}
	}

	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
