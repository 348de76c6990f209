package transcription

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidHandle is returned by NewModelHandle for unusable arguments.
var ErrInvalidHandle = errors.New("invalid model handle")

// ModelHandle identifies the model a Transcriber is bound to and the sample
// rate that model expects. It is immutable.
type ModelHandle struct {
	id         string
	sampleRate int
}

// NewModelHandle validates and builds a handle.
func NewModelHandle(id string, sampleRate int) (ModelHandle, error) {
	if strings.TrimSpace(id) == "" {
		return ModelHandle{}, fmt.Errorf("%w: empty model id", ErrInvalidHandle)
	}
	if sampleRate <= 0 {
		return ModelHandle{}, fmt.Errorf("%w: sample rate %d", ErrInvalidHandle, sampleRate)
	}
	return ModelHandle{id: id, sampleRate: sampleRate}, nil
}

// ID returns the registry model identifier.
func (h ModelHandle) ID() string { return h.id }

// SampleRate returns the input rate in Hz.
func (h ModelHandle) SampleRate() int { return h.sampleRate }

// Segment is one piece of recognized text with its position in the input.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Result holds the segments of one transcription in presentation order.
type Result struct {
	Segments []Segment
	// Audio is the decoded input duration.
	Audio time.Duration
}

// Text concatenates the segment texts.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, s := range r.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// InferenceError reports a failure inside the recognition engine.
type InferenceError struct {
	// Op is "load" or "transcribe".
	Op      string
	ModelID string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s failed for model %q: %v", e.Op, e.ModelID, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
