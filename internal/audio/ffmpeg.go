package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// decodeFFmpeg converts any container ffmpeg understands into mono float32
// PCM at targetRate.
func (l *Loader) decodeFFmpeg(ctx context.Context, path string, targetRate int) (*Buffer, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.FFmpegTimeout)
	defer cancel()

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(targetRate),
		"-f", "f32le",
		"-",
	}

	cmd := exec.CommandContext(ctx, l.config.FFmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFFmpegNotFound, l.config.FFmpegPath)
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrFFmpegTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("ffmpeg failed: %w", err)
		}
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
	}

	return &Buffer{Samples: float32LE(stdout.Bytes()), SampleRate: targetRate}, nil
}

func float32LE(raw []byte) []float32 {
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples
}
