// Package provision keeps registry models available on local disk.
package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/logger"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/metrics"
)

// Config holds registry and storage settings.
type Config struct {
	RegistryURL string
	Revision    string
	ModelsDir   string
	// Artifacts are the files fetched per model. The first one holds the weights.
	Artifacts []string
	// Timeout bounds each artifact download. Zero means no limit.
	Timeout time.Duration
	// Client overrides the HTTP client.
	Client *http.Client
}

// Provisioner downloads models from the registry on first use.
type Provisioner struct {
	config  Config
	client  *http.Client
	group   singleflight.Group
	log     *logger.ContextLogger
	metrics *metrics.Metrics
}

// New creates a provisioner
func New(config Config, log *logger.Logger, m *metrics.Metrics) (*Provisioner, error) {
	if config.RegistryURL == "" {
		config.RegistryURL = "https://huggingface.co"
	}
	if _, err := url.Parse(config.RegistryURL); err != nil {
		return nil, fmt.Errorf("invalid registry url: %w", err)
	}
	config.RegistryURL = strings.TrimRight(config.RegistryURL, "/")
	if config.Revision == "" {
		config.Revision = "main"
	}
	if config.ModelsDir == "" {
		config.ModelsDir = "models"
	}
	if len(config.Artifacts) == 0 {
		config.Artifacts = []string{"ggml-model.bin"}
	}
	for _, a := range config.Artifacts {
		if a == "" || filepath.Base(a) != a {
			return nil, fmt.Errorf("invalid artifact name %q", a)
		}
	}

	client := config.Client
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Provisioner{
		config:  config,
		client:  client,
		log:     log.With("provision"),
		metrics: m,
	}, nil
}

// Artifacts returns the configured artifact names.
func (p *Provisioner) Artifacts() []string {
	out := make([]string, len(p.config.Artifacts))
	copy(out, p.config.Artifacts)
	return out
}

// LocalDir maps a model id to its directory under ModelsDir.
func (p *Provisioner) LocalDir(modelID string) string {
	return filepath.Join(p.config.ModelsDir, strings.ReplaceAll(modelID, "/", "_"))
}

// WeightsPath returns the path of the weights artifact inside a model dir.
func (p *Provisioner) WeightsPath(localDir string) string {
	return filepath.Join(localDir, p.config.Artifacts[0])
}

// IsAvailable reports whether every artifact of the model exists and is non-empty.
func (p *Provisioner) IsAvailable(modelID string) bool {
	if validateID(modelID) != nil {
		return false
	}
	dir := p.LocalDir(modelID)
	for _, a := range p.config.Artifacts {
		if !nonEmpty(filepath.Join(dir, a)) {
			return false
		}
	}
	return true
}

// EnsureAvailable makes sure the model is on disk and returns its directory.
// A model already present is returned without network access. Concurrent
// calls for the same id share one download.
func (p *Provisioner) EnsureAvailable(ctx context.Context, modelID string) (string, error) {
	if err := validateID(modelID); err != nil {
		return "", &ProvisionError{ModelID: modelID, Err: err}
	}

	if p.IsAvailable(modelID) {
		p.metrics.ObserveDownload(metrics.ResultCached)
		return p.LocalDir(modelID), nil
	}

	// The shared download is detached from any single caller; each caller
	// stops waiting on its own ctx. Config.Timeout still bounds every artifact.
	ch := p.group.DoChan(modelID, func() (interface{}, error) {
		if p.IsAvailable(modelID) {
			return p.LocalDir(modelID), nil
		}
		return p.download(context.WithoutCancel(ctx), modelID)
	})

	select {
	case <-ctx.Done():
		return "", &ProvisionError{ModelID: modelID, Err: ctx.Err()}
	case res := <-ch:
		if res.Shared {
			p.log.Debug("Joined in-flight download of %s", modelID)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (p *Provisioner) download(ctx context.Context, modelID string) (string, error) {
	dir := p.LocalDir(modelID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		p.metrics.ObserveDownload(metrics.ResultError)
		return "", &ProvisionError{ModelID: modelID, Err: fmt.Errorf("%w: %v", ErrStorage, err)}
	}

	for _, artifact := range p.config.Artifacts {
		dest := filepath.Join(dir, artifact)
		if nonEmpty(dest) {
			continue
		}

		start := time.Now()
		p.log.InfoWithFields("Downloading artifact", map[string]interface{}{
			"model":    modelID,
			"artifact": artifact,
		})

		n, err := p.fetch(ctx, modelID, artifact, dest)
		if err != nil {
			p.metrics.ObserveDownload(metrics.ResultError)
			p.log.ErrorWithFields("Download failed", map[string]interface{}{
				"model":    modelID,
				"artifact": artifact,
				"error":    err.Error(),
			})
			return "", &ProvisionError{ModelID: modelID, Artifact: artifact, Err: err}
		}

		p.log.InfoWithFields("Artifact ready", map[string]interface{}{
			"model":    modelID,
			"artifact": artifact,
			"bytes":    n,
			"seconds":  time.Since(start).Seconds(),
		})
	}

	p.metrics.ObserveDownload(metrics.ResultSuccess)
	return dir, nil
}

// fetch streams one artifact into dest via a temporary file.
func (p *Provisioner) fetch(ctx context.Context, modelID, artifact, dest string) (int64, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	u := fmt.Sprintf("%s/%s/resolve/%s/%s", p.config.RegistryURL, modelID, url.PathEscape(p.config.Revision), url.PathEscape(artifact))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRegistryUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return 0, fmt.Errorf("%w: %s", ErrUnknownModel, resp.Status)
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("%w: %s", ErrRegistryUnreachable, resp.Status)
	default:
		return 0, fmt.Errorf("unexpected registry response: %s", resp.Status)
	}

	tmp := dest + ".tmp"
	defer os.Remove(tmp)

	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %v", ErrRegistryUnreachable, ctx.Err())
		}
		return 0, fmt.Errorf("%w: %v", ErrRegistryUnreachable, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: empty artifact", ErrUnknownModel)
	}

	if err := os.Rename(tmp, dest); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return n, nil
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelID)
	}
	if strings.HasPrefix(id, "/") || strings.ContainsAny(id, "\\ ") {
		return fmt.Errorf("%w: %q", ErrInvalidModelID, id)
	}

	parts := strings.Split(id, "/")
	if len(parts) > 2 {
		return fmt.Errorf("%w: %q", ErrInvalidModelID, id)
	}
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidModelID, id)
		}
	}
	return nil
}

func nonEmpty(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && stat.Mode().IsRegular() && stat.Size() > 0
}
