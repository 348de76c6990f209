package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// download fetches a Telegram file into a fresh temp dir. cleanup is always
// non-nil and removes the dir.
func (b *Bot) download(ctx context.Context, fileID string) (path string, cleanup func(), err error) {
	cleanup = func() {}

	dir, err := os.MkdirTemp(b.config.TempDir, "voicebot-*")
	if err != nil {
		return "", cleanup, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup = func() {
		if err := os.RemoveAll(dir); err != nil {
			b.log.Warn("Failed to remove %s: %v", dir, err)
		}
	}

	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", cleanup, fmt.Errorf("failed to resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", cleanup, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := b.config.HTTPClient.Do(req)
	if err != nil {
		return "", cleanup, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", cleanup, fmt.Errorf("failed to download file: %s", resp.Status)
	}

	path = filepath.Join(dir, uuid.New().String()+".ogg")
	f, err := os.Create(path)
	if err != nil {
		return "", cleanup, fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", cleanup, fmt.Errorf("failed to save file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", cleanup, fmt.Errorf("failed to save file: %w", err)
	}

	return path, cleanup, nil
}
