// Package quantize produces a reduced-precision copy of a provisioned model
// with the whisper.cpp quantize tool.
package quantize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/logger"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/transcription"
)

// ErrToolNotFound is returned when the quantize binary cannot be executed.
var ErrToolNotFound = errors.New("quantize tool not found")

// ToolError reports a failed run of the quantize binary.
type ToolError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, e.Stderr)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Provisioner makes the source model available locally.
type Provisioner interface {
	EnsureAvailable(ctx context.Context, modelID string) (string, error)
	WeightsPath(localDir string) string
	Artifacts() []string
}

// Config describes one quantization run.
type Config struct {
	SourceModel string
	ToolPath    string
	Type        string // e.g. "q5_1"
	OutputDir   string
	// Open loads the quantized weights to check they are usable.
	Open   transcription.Opener
	Logger *logger.Logger
}

// Result describes the quantized model on disk.
type Result struct {
	Dir     string
	Weights string
	// Created is false when OutputDir already existed and was reused.
	Created bool
}

// Run provisions the source model, quantizes it into OutputDir unless that
// dir already exists, and reopens the result.
func Run(ctx context.Context, config Config, p Provisioner) (*Result, error) {
	if config.SourceModel == "" || config.ToolPath == "" || config.Type == "" || config.OutputDir == "" {
		return nil, fmt.Errorf("quantize requires a source model, a tool, a type and an output dir")
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	log := config.Logger.With("quantize")

	srcDir, err := p.EnsureAvailable(ctx, config.SourceModel)
	if err != nil {
		return nil, fmt.Errorf("failed to provision %s: %w", config.SourceModel, err)
	}
	srcWeights := p.WeightsPath(srcDir)
	weightsName := filepath.Base(srcWeights)

	result := &Result{
		Dir:     config.OutputDir,
		Weights: filepath.Join(config.OutputDir, weightsName),
	}

	if _, err := os.Stat(config.OutputDir); err == nil {
		log.Info("%s already exists, skipping quantization", config.OutputDir)
	} else if errors.Is(err, fs.ErrNotExist) {
		if err := build(ctx, config, log, srcDir, srcWeights, p.Artifacts()); err != nil {
			return nil, err
		}
		result.Created = true
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", config.OutputDir, err)
	}

	if config.Open != nil {
		engine, err := config.Open(result.Weights)
		if err != nil {
			return nil, fmt.Errorf("failed to load quantized model: %w", err)
		}
		if err := engine.Close(); err != nil {
			log.Warn("Failed to close quantized model: %v", err)
		}
		log.Info("Quantized model %s loads correctly", result.Weights)
	}

	return result, nil
}

// build writes the quantized model into a temp dir next to OutputDir and
// renames it into place, so OutputDir only ever appears complete.
func build(ctx context.Context, config Config, log *logger.ContextLogger, srcDir, srcWeights string, artifacts []string) error {
	parent := filepath.Dir(config.OutputDir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", parent, err)
	}
	tmp, err := os.MkdirTemp(parent, ".quantize-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	weightsName := filepath.Base(srcWeights)
	out := filepath.Join(tmp, weightsName)

	log.InfoWithFields("Quantizing model", map[string]interface{}{
		"model": config.SourceModel,
		"type":  config.Type,
		"tool":  config.ToolPath,
	})
	start := time.Now()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, config.ToolPath, srcWeights, out, config.Type)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrToolNotFound, config.ToolPath)
		}
		return &ToolError{Tool: config.ToolPath, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return &ToolError{Tool: config.ToolPath, Stderr: strings.TrimSpace(stderr.String()), Err: errors.New("no output written")}
	}

	for _, a := range artifacts {
		if a == weightsName {
			continue
		}
		if err := copyFile(filepath.Join(srcDir, a), filepath.Join(tmp, a)); err != nil {
			return fmt.Errorf("failed to copy %s: %w", a, err)
		}
	}

	if err := os.Chmod(tmp, 0755); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, config.OutputDir); err != nil {
		return fmt.Errorf("failed to move quantized model into place: %w", err)
	}

	log.InfoWithFields("Quantization complete", map[string]interface{}{
		"output":     config.OutputDir,
		"bytes":      info.Size(),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
