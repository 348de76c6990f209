package transcription

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/audio"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/metrics"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/provision"
)

type fakeProvisioner struct {
	dir   string
	err   error
	calls atomic.Int32
}

func (p *fakeProvisioner) EnsureAvailable(ctx context.Context, id string) (string, error) {
	p.calls.Add(1)
	if p.err != nil {
		return "", p.err
	}
	return p.dir, nil
}

func (p *fakeProvisioner) WeightsPath(dir string) string {
	return filepath.Join(dir, "ggml-model.bin")
}

type fakeLoader struct {
	buf *audio.Buffer
	err error
}

func (l *fakeLoader) Load(ctx context.Context, path string, targetRate int) (*audio.Buffer, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.buf, nil
}

// fakeEngine emits one segment per chunk describing its length.
type fakeEngine struct {
	err      error
	panicMsg string
	delay    time.Duration

	calls    atomic.Int32
	active   atomic.Int32
	maxSeen  atomic.Int32
	closed   atomic.Bool
	inputLen []int
	mu       sync.Mutex
}

func (e *fakeEngine) Transcribe(samples []float32, onSegment func(Segment)) error {
	e.calls.Add(1)
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		seen := e.maxSeen.Load()
		if n <= seen || e.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	e.mu.Lock()
	e.inputLen = append(e.inputLen, len(samples))
	e.mu.Unlock()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.panicMsg != "" {
		panic(e.panicMsg)
	}
	if e.err != nil {
		return e.err
	}

	onSegment(Segment{
		Text:  fmt.Sprintf(" chunk of %d samples", len(samples)),
		Start: 0,
		End:   time.Duration(len(samples)) * time.Second / rate,
	})
	return nil
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

func newTestTranscriber(t *testing.T, engine *fakeEngine, loader AudioLoader) *Transcriber {
	t.Helper()
	handle, err := NewModelHandle("test/model-a", rate)
	require.NoError(t, err)

	tr, err := New(context.Background(), handle, Options{
		Provisioner: &fakeProvisioner{dir: t.TempDir()},
		Loader:      loader,
		Open:        func(string) (Engine, error) { return engine, nil },
		Metrics:     metrics.New(),
	})
	require.NoError(t, err)
	return tr
}

func TestNewModelHandle(t *testing.T) {
	h, err := NewModelHandle("org/model", 16000)
	require.NoError(t, err)
	assert.Equal(t, "org/model", h.ID())
	assert.Equal(t, 16000, h.SampleRate())

	_, err = NewModelHandle("", 16000)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = NewModelHandle("org/model", 0)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestNewPropagatesProvisionError(t *testing.T) {
	handle, _ := NewModelHandle("test/missing", rate)
	provErr := &provision.ProvisionError{ModelID: "test/missing", Err: provision.ErrUnknownModel}

	opened := false
	_, err := New(context.Background(), handle, Options{
		Provisioner: &fakeProvisioner{err: provErr},
		Loader:      &fakeLoader{},
		Open: func(string) (Engine, error) {
			opened = true
			return &fakeEngine{}, nil
		},
	})

	var perr *provision.ProvisionError
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, provision.ErrUnknownModel)
	assert.False(t, opened)
}

func TestNewWrapsLoadFailure(t *testing.T) {
	handle, _ := NewModelHandle("test/model-a", rate)
	dir := t.TempDir()

	var gotPath string
	_, err := New(context.Background(), handle, Options{
		Provisioner: &fakeProvisioner{dir: dir},
		Loader:      &fakeLoader{},
		Open: func(path string) (Engine, error) {
			gotPath = path
			return nil, errors.New("bad magic")
		},
	})

	var ierr *InferenceError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "load", ierr.Op)
	assert.Equal(t, filepath.Join(dir, "ggml-model.bin"), gotPath)
}

func TestTranscribeIsDeterministic(t *testing.T) {
	engine := &fakeEngine{}
	tr := newTestTranscriber(t, engine, &fakeLoader{buf: &audio.Buffer{Samples: tone(3), SampleRate: rate}})

	first, err := tr.Transcribe(context.Background(), "voice.ogg")
	require.NoError(t, err)
	second, err := tr.Transcribe(context.Background(), "voice.ogg")
	require.NoError(t, err)

	assert.Equal(t, " chunk of 48000 samples", first.Text())
	assert.Equal(t, first.Text(), second.Text())
	assert.Equal(t, 3*time.Second, first.Audio)
	assert.Equal(t, int32(2), engine.calls.Load())
}

func TestTranscribeOffsetsSegments(t *testing.T) {
	samples := concat(tone(25), silence(2), tone(25), silence(2), tone(16))
	engine := &fakeEngine{}
	tr := newTestTranscriber(t, engine, &fakeLoader{buf: &audio.Buffer{Samples: samples, SampleRate: rate}})

	result, err := tr.Transcribe(context.Background(), "long.ogg")
	require.NoError(t, err)

	require.Len(t, result.Segments, 3)
	assert.Equal(t, time.Duration(0), result.Segments[0].Start)
	assert.Equal(t, 27*time.Second, result.Segments[1].Start)
	assert.Equal(t, 54*time.Second, result.Segments[2].Start)
	assert.Equal(t, 70*time.Second, result.Segments[2].End)
	assert.Equal(t, int32(3), engine.calls.Load(), "silent chunks are not sent to the engine")
}

func TestTranscribeShortSilenceReachesEngine(t *testing.T) {
	engine := &fakeEngine{}
	tr := newTestTranscriber(t, engine, &fakeLoader{buf: &audio.Buffer{Samples: silence(2), SampleRate: rate}})

	_, err := tr.Transcribe(context.Background(), "quiet.ogg")
	require.NoError(t, err)

	assert.Equal(t, int32(1), engine.calls.Load(), "a buffer that is not split is always transcribed")
	assert.Equal(t, []int{2 * rate}, engine.inputLen)
}

func TestTranscribeLongSilenceSkipsChunks(t *testing.T) {
	engine := &fakeEngine{}
	tr := newTestTranscriber(t, engine, &fakeLoader{buf: &audio.Buffer{Samples: silence(65), SampleRate: rate}})

	result, err := tr.Transcribe(context.Background(), "quiet.ogg")
	require.NoError(t, err)

	assert.Empty(t, result.Text())
	assert.Equal(t, int32(0), engine.calls.Load())
}

func TestTranscribeQuietWAV(t *testing.T) {
	quiet := make([]float32, 3*rate)
	for i := range quiet {
		quiet[i] = 0.007 * float32(math.Sin(2*math.Pi*300*float64(i)/rate))
	}
	path := filepath.Join(t.TempDir(), "quiet.wav")
	require.NoError(t, audio.WriteWAV(path, &audio.Buffer{Samples: quiet, SampleRate: rate}))

	engine := &fakeEngine{}
	tr := newTestTranscriber(t, engine, audio.NewLoader(audio.LoaderConfig{}))

	result, err := tr.Transcribe(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, int32(1), engine.calls.Load())
	assert.Equal(t, []int{3 * rate}, engine.inputLen)
	assert.Len(t, result.Segments, 1)
}

func TestTranscribeEngineError(t *testing.T) {
	boom := errors.New("decoder state corrupt")
	tr := newTestTranscriber(t, &fakeEngine{err: boom}, &fakeLoader{buf: &audio.Buffer{Samples: tone(1), SampleRate: rate}})

	_, err := tr.Transcribe(context.Background(), "voice.ogg")

	var ierr *InferenceError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "transcribe", ierr.Op)
	assert.Equal(t, "test/model-a", ierr.ModelID)
	assert.ErrorIs(t, err, boom)
}

func TestTranscribeRecoversPanic(t *testing.T) {
	tr := newTestTranscriber(t, &fakeEngine{panicMsg: "ggml assert"}, &fakeLoader{buf: &audio.Buffer{Samples: tone(1), SampleRate: rate}})

	_, err := tr.Transcribe(context.Background(), "voice.ogg")

	var ierr *InferenceError
	require.True(t, errors.As(err, &ierr))
	assert.Contains(t, err.Error(), "ggml assert")
}

func TestTranscribeDecodeErrorPassesThrough(t *testing.T) {
	engine := &fakeEngine{}
	tr := newTestTranscriber(t, engine, audio.NewLoader(audio.LoaderConfig{}))

	path := filepath.Join(t.TempDir(), "empty.ogg")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, err := tr.Transcribe(context.Background(), path)

	var derr *audio.DecodeError
	require.True(t, errors.As(err, &derr))
	assert.ErrorIs(t, err, audio.ErrEmptyFile)
	assert.Equal(t, int32(0), engine.calls.Load())
}

func TestTranscribeRealWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.wav")
	require.NoError(t, audio.WriteWAV(path, &audio.Buffer{Samples: tone(2), SampleRate: 48000}))

	engine := &fakeEngine{}
	tr := newTestTranscriber(t, engine, audio.NewLoader(audio.LoaderConfig{}))

	result, err := tr.Transcribe(context.Background(), path)
	require.NoError(t, err)

	// 2*16000 samples at 48kHz last 2/3s, resampled to 16kHz.
	assert.Equal(t, []int{10667}, engine.inputLen)
	assert.Len(t, result.Segments, 1)
}

func TestTranscribeIsSerialized(t *testing.T) {
	engine := &fakeEngine{delay: 20 * time.Millisecond}
	tr := newTestTranscriber(t, engine, &fakeLoader{buf: &audio.Buffer{Samples: tone(1), SampleRate: rate}})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Transcribe(context.Background(), "voice.ogg")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), engine.calls.Load())
	assert.Equal(t, int32(1), engine.maxSeen.Load())
}

func TestTranscribeStream(t *testing.T) {
	samples := concat(tone(25), silence(2), tone(10))
	tr := newTestTranscriber(t, &fakeEngine{}, &fakeLoader{buf: &audio.Buffer{Samples: samples, SampleRate: rate}})

	var starts []time.Duration
	err := tr.TranscribeStream(context.Background(), "voice.ogg", func(s Segment) {
		starts = append(starts, s.Start)
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0, 27 * time.Second}, starts)
}

func TestTranscribeCancelledContext(t *testing.T) {
	engine := &fakeEngine{}
	tr := newTestTranscriber(t, engine, &fakeLoader{buf: &audio.Buffer{Samples: tone(1), SampleRate: rate}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Transcribe(ctx, "voice.ogg")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), engine.calls.Load())
}

func TestTranscribeAfterClose(t *testing.T) {
	engine := &fakeEngine{}
	tr := newTestTranscriber(t, engine, &fakeLoader{buf: &audio.Buffer{Samples: tone(1), SampleRate: rate}})

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, engine.closed.Load())

	_, err := tr.Transcribe(context.Background(), "voice.ogg")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTranscribeDumpsInput(t *testing.T) {
	dump := t.TempDir()
	handle, _ := NewModelHandle("test/model-a", rate)
	tr, err := New(context.Background(), handle, Options{
		Provisioner: &fakeProvisioner{dir: t.TempDir()},
		Loader:      &fakeLoader{buf: &audio.Buffer{Samples: tone(1), SampleRate: rate}},
		Open:        func(string) (Engine, error) { return &fakeEngine{}, nil },
		DumpDir:     dump,
	})
	require.NoError(t, err)

	_, err = tr.Transcribe(context.Background(), "voice.ogg")
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dump, "*.wav"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestResultText(t *testing.T) {
	r := &Result{Segments: []Segment{{Text: " Привет"}, {Text: ","}, {Text: " мир"}}}
	assert.Equal(t, " Привет, мир", r.Text())

	var empty *Result
	assert.Equal(t, "", empty.Text())
}
