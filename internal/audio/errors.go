package audio

import (
	"errors"
	"fmt"
)

// Common decode failures. A *DecodeError wraps one of these or a codec error.
var (
	// ErrEmptyFile is returned for zero-byte inputs.
	ErrEmptyFile = errors.New("audio file is empty")

	// ErrUnsupportedFormat is returned when no decoder accepts the container.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrNoSamples is returned when decoding succeeds but yields no PCM.
	ErrNoSamples = errors.New("decoded audio contains no samples")

	// ErrFFmpegNotFound is returned when the ffmpeg binary cannot be executed.
	ErrFFmpegNotFound = errors.New("ffmpeg not found")

	// ErrFFmpegTimeout is returned when ffmpeg exceeds its time budget.
	ErrFFmpegTimeout = errors.New("ffmpeg execution timed out")
)

// DecodeError reports an input that could not be turned into PCM samples.
type DecodeError struct {
	Path   string
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("failed to decode %s audio %s: %v", e.Format, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to decode audio %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
