package provision

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/metrics"
)

type registry struct {
	hits  atomic.Int32
	paths sync.Map
	delay time.Duration
	// gate, when set, holds every response until it is closed.
	gate chan struct{}
}

func (r *registry) handler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.hits.Add(1)
		r.paths.Store(req.URL.Path, true)
		if r.delay > 0 {
			time.Sleep(r.delay)
		}
		if r.gate != nil {
			<-r.gate
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func newProvisioner(t *testing.T, registryURL string, artifacts ...string) *Provisioner {
	t.Helper()
	p, err := New(Config{
		RegistryURL: registryURL,
		ModelsDir:   t.TempDir(),
		Artifacts:   artifacts,
		Timeout:     5 * time.Second,
	}, nil, metrics.New())
	require.NoError(t, err)
	return p
}

func TestEnsureAvailableDownloadsOnce(t *testing.T) {
	reg := &registry{}
	srv := httptest.NewServer(reg.handler(http.StatusOK, "weights"))
	defer srv.Close()

	p := newProvisioner(t, srv.URL)

	dir1, err := p.EnsureAvailable(context.Background(), "test/model-a")
	require.NoError(t, err)
	dir2, err := p.EnsureAvailable(context.Background(), "test/model-a")
	require.NoError(t, err)

	assert.Equal(t, dir1, dir2)
	assert.Equal(t, int32(1), reg.hits.Load())
	assert.Equal(t, "test_model-a", filepath.Base(dir1))

	_, ok := reg.paths.Load("/test/model-a/resolve/main/ggml-model.bin")
	assert.True(t, ok)

	data, err := os.ReadFile(p.WeightsPath(dir1))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))
}

func TestEnsureAvailableConcurrent(t *testing.T) {
	reg := &registry{delay: 100 * time.Millisecond}
	srv := httptest.NewServer(reg.handler(http.StatusOK, "weights"))
	defer srv.Close()

	p := newProvisioner(t, srv.URL)

	var wg sync.WaitGroup
	dirs := make([]string, 10)
	errs := make([]error, 10)
	for i := range dirs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dirs[i], errs[i] = p.EnsureAvailable(context.Background(), "org/shared")
		}(i)
	}
	wg.Wait()

	for i := range dirs {
		require.NoError(t, errs[i])
		assert.Equal(t, dirs[0], dirs[i])
	}
	assert.Equal(t, int32(1), reg.hits.Load())
}

func TestCancelledCallerDoesNotFailJoinedCaller(t *testing.T) {
	reg := &registry{gate: make(chan struct{})}
	srv := httptest.NewServer(reg.handler(http.StatusOK, "weights"))
	defer srv.Close()

	p := newProvisioner(t, srv.URL)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.EnsureAvailable(firstCtx, "org/shared")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return reg.hits.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	type outcome struct {
		dir string
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		dir, err := p.EnsureAvailable(context.Background(), "org/shared")
		second <- outcome{dir, err}
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		var perr *ProvisionError
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(reg.gate)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.True(t, p.IsAvailable("org/shared"))
		assert.Equal(t, p.LocalDir("org/shared"), got.dir)
	case <-time.After(5 * time.Second):
		t.Fatal("joined caller did not return")
	}
	assert.Equal(t, int32(1), reg.hits.Load())
}

func TestEnsureAvailableMultipleArtifacts(t *testing.T) {
	reg := &registry{}
	srv := httptest.NewServer(reg.handler(http.StatusOK, "data"))
	defer srv.Close()

	p := newProvisioner(t, srv.URL, "ggml-model.bin", "config.json")

	dir, err := p.EnsureAvailable(context.Background(), "solo-model")
	require.NoError(t, err)

	assert.Equal(t, int32(2), reg.hits.Load())
	assert.FileExists(t, filepath.Join(dir, "config.json"))
	assert.True(t, p.IsAvailable("solo-model"))
}

func TestEnsureAvailableErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"not found", http.StatusNotFound, ErrUnknownModel},
		{"unauthorized", http.StatusUnauthorized, ErrUnknownModel},
		{"server error", http.StatusBadGateway, ErrRegistryUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer((&registry{}).handler(tt.status, "nope"))
			defer srv.Close()

			p := newProvisioner(t, srv.URL)
			_, err := p.EnsureAvailable(context.Background(), "test/missing")

			var perr *ProvisionError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, "test/missing", perr.ModelID)
			assert.Equal(t, "ggml-model.bin", perr.Artifact)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)

			entries, _ := os.ReadDir(p.LocalDir("test/missing"))
			assert.Empty(t, entries, "no partial files may remain")
			assert.False(t, p.IsAvailable("test/missing"))
		})
	}
}

func TestUnknownArtifactNamesGGMLRequirement(t *testing.T) {
	srv := httptest.NewServer((&registry{}).handler(http.StatusNotFound, "Entry not found"))
	defer srv.Close()

	p := newProvisioner(t, srv.URL)
	_, err := p.EnsureAvailable(context.Background(), "org/transformers-only")

	require.ErrorIs(t, err, ErrUnknownModel)
	assert.Contains(t, err.Error(), `whisper.cpp ggml weights as "ggml-model.bin"`)
}

func TestEnsureAvailableUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := newProvisioner(t, url)
	_, err := p.EnsureAvailable(context.Background(), "test/model-a")

	assert.True(t, errors.Is(err, ErrRegistryUnreachable), "got %v", err)
}

func TestEnsureAvailableInvalidID(t *testing.T) {
	reg := &registry{}
	srv := httptest.NewServer(reg.handler(http.StatusOK, "weights"))
	defer srv.Close()

	p := newProvisioner(t, srv.URL)

	for _, id := range []string{"", "/abs/path", "../escape", "a/../b", "a/b/c", "org/", "with space"} {
		_, err := p.EnsureAvailable(context.Background(), id)
		assert.True(t, errors.Is(err, ErrInvalidModelID), "id %q: %v", id, err)
	}
	assert.Equal(t, int32(0), reg.hits.Load())
}

func TestEnsureAvailableSkipsExisting(t *testing.T) {
	p := newProvisioner(t, "http://127.0.0.1:1")

	dir := p.LocalDir("test/local")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(p.WeightsPath(dir), []byte("cached"), 0644))

	got, err := p.EnsureAvailable(context.Background(), "test/local")
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestEmptyExistingFileIsRedownloaded(t *testing.T) {
	reg := &registry{}
	srv := httptest.NewServer(reg.handler(http.StatusOK, "fresh"))
	defer srv.Close()

	p := newProvisioner(t, srv.URL)
	dir := p.LocalDir("test/empty")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(p.WeightsPath(dir), nil, 0644))

	_, err := p.EnsureAvailable(context.Background(), "test/empty")
	require.NoError(t, err)
	assert.Equal(t, int32(1), reg.hits.Load())
}

func TestNewRejectsBadArtifact(t *testing.T) {
	_, err := New(Config{Artifacts: []string{"../weights.bin"}}, nil, nil)
	assert.Error(t, err)
}
