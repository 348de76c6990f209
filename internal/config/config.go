package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultModel is used when the config file does not name a model.
const DefaultModel = "Dragon116rus/whisper-small-distill-ru"

// DefaultPath is where the bot looks for its config file.
const DefaultPath = "configs/config.yml"

// ConfigError reports a config file that exists but cannot be used.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Config holds the bot configuration
type Config struct {
	// Model is the registry identifier of the speech-to-text model.
	Model string `yaml:"model"`

	Logging struct {
		Level         string `yaml:"level"`
		Format        string `yaml:"format"`
		TranscriptLog string `yaml:"transcript_log"`
	} `yaml:"logging"`

	Provision struct {
		RegistryURL    string   `yaml:"registry_url"`
		Revision       string   `yaml:"revision"`
		ModelsDir      string   `yaml:"models_dir"`
		Artifacts      []string `yaml:"artifacts"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
	} `yaml:"provision"`

	Transcription struct {
		SampleRate    int    `yaml:"sample_rate"`
		Language      string `yaml:"language"`
		Threads       int    `yaml:"threads"`
		Translate     bool   `yaml:"translate"`
		InitialPrompt string `yaml:"initial_prompt"`
		DumpDir       string `yaml:"dump_dir"`
		VAD           struct {
			EnergyThreshold    float64 `yaml:"energy_threshold"`
			SilenceThresholdMs int     `yaml:"silence_threshold_ms"`
			MinChunkDurationMs int     `yaml:"min_chunk_duration_ms"`
			MaxChunkDurationMs int     `yaml:"max_chunk_duration_ms"`
		} `yaml:"vad"`
	} `yaml:"transcription"`

	Audio struct {
		FFmpegPath           string `yaml:"ffmpeg_path"`
		FFmpegTimeoutSeconds int    `yaml:"ffmpeg_timeout_seconds"`
	} `yaml:"audio"`

	Bot struct {
		MaxConcurrent         int `yaml:"max_concurrent"`
		RateLimitPerMinute    int `yaml:"rate_limit_per_minute"`
		MaxVoiceSeconds       int `yaml:"max_voice_seconds"`
		RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	} `yaml:"bot"`

	Server struct {
		BindAddress    string `yaml:"bind_address"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	} `yaml:"server"`

	Quantize struct {
		SourceModel string `yaml:"source_model"`
		ToolPath    string `yaml:"tool_path"`
		Type        string `yaml:"type"`
		OutputDir   string `yaml:"output_dir"`
	} `yaml:"quantize"`
}

// Load reads and parses the configuration file. A missing file yields
// Default(); any other read, parse or validation failure is a *ConfigError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// Parse decodes YAML config data, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns a default configuration
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Provision.RegistryURL == "" {
		c.Provision.RegistryURL = "https://huggingface.co"
	}
	if c.Provision.Revision == "" {
		c.Provision.Revision = "main"
	}
	if c.Provision.ModelsDir == "" {
		c.Provision.ModelsDir = "models"
	}
	if len(c.Provision.Artifacts) == 0 {
		c.Provision.Artifacts = []string{"ggml-model.bin"}
	}
	if c.Provision.TimeoutSeconds == 0 {
		c.Provision.TimeoutSeconds = 1800
	}

	if c.Transcription.SampleRate == 0 {
		c.Transcription.SampleRate = 16000
	}
	if c.Transcription.Language == "" {
		c.Transcription.Language = "auto"
	}
	if c.Transcription.VAD.EnergyThreshold == 0 {
		c.Transcription.VAD.EnergyThreshold = 100.0
	}
	if c.Transcription.VAD.SilenceThresholdMs == 0 {
		c.Transcription.VAD.SilenceThresholdMs = 1000
	}
	if c.Transcription.VAD.MinChunkDurationMs == 0 {
		c.Transcription.VAD.MinChunkDurationMs = 500
	}
	if c.Transcription.VAD.MaxChunkDurationMs == 0 {
		c.Transcription.VAD.MaxChunkDurationMs = 30000
	}

	if c.Audio.FFmpegPath == "" {
		c.Audio.FFmpegPath = "ffmpeg"
	}
	if c.Audio.FFmpegTimeoutSeconds == 0 {
		c.Audio.FFmpegTimeoutSeconds = 60
	}

	if c.Bot.MaxConcurrent == 0 {
		c.Bot.MaxConcurrent = 4
	}
	if c.Bot.RateLimitPerMinute == 0 {
		c.Bot.RateLimitPerMinute = 10
	}
	if c.Bot.MaxVoiceSeconds == 0 {
		c.Bot.MaxVoiceSeconds = 600
	}
	if c.Bot.RequestTimeoutSeconds == 0 {
		c.Bot.RequestTimeoutSeconds = 300
	}

	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 20 << 20
	}

	if c.Quantize.SourceModel == "" {
		c.Quantize.SourceModel = "lorenzoncina/whisper-small-ru"
	}
	if c.Quantize.ToolPath == "" {
		c.Quantize.ToolPath = "quantize"
	}
	if c.Quantize.Type == "" {
		c.Quantize.Type = "q5_1"
	}
	if c.Quantize.OutputDir == "" {
		c.Quantize.OutputDir = "quantized"
	}
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: level must be one of [debug, info, warn, error], got '%s'", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging: format must be 'json' or 'text', got '%s'", c.Logging.Format)
	}

	if c.Provision.TimeoutSeconds < 0 {
		return fmt.Errorf("provision: timeout_seconds cannot be negative, got %d", c.Provision.TimeoutSeconds)
	}
	for _, a := range c.Provision.Artifacts {
		if a == "" {
			return fmt.Errorf("provision: artifacts cannot contain empty names")
		}
	}

	t := c.Transcription
	if t.SampleRate < 8000 || t.SampleRate > 192000 {
		return fmt.Errorf("transcription: sample_rate must be between 8000 and 192000, got %d", t.SampleRate)
	}
	if t.Threads < 0 {
		return fmt.Errorf("transcription: threads cannot be negative, got %d", t.Threads)
	}
	if t.VAD.EnergyThreshold < 0 {
		return fmt.Errorf("transcription: vad energy_threshold cannot be negative, got %f", t.VAD.EnergyThreshold)
	}
	if t.VAD.MaxChunkDurationMs <= t.VAD.MinChunkDurationMs {
		return fmt.Errorf("transcription: vad max_chunk_duration_ms (%d) must be greater than min_chunk_duration_ms (%d)",
			t.VAD.MaxChunkDurationMs, t.VAD.MinChunkDurationMs)
	}

	if c.Bot.MaxConcurrent < 1 {
		return fmt.Errorf("bot: max_concurrent must be at least 1, got %d", c.Bot.MaxConcurrent)
	}
	if c.Bot.RateLimitPerMinute < 0 {
		return fmt.Errorf("bot: rate_limit_per_minute cannot be negative, got %d", c.Bot.RateLimitPerMinute)
	}
	if c.Bot.MaxVoiceSeconds < 0 {
		return fmt.Errorf("bot: max_voice_seconds cannot be negative, got %d", c.Bot.MaxVoiceSeconds)
	}

	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server: max_upload_bytes cannot be negative, got %d", c.Server.MaxUploadBytes)
	}

	return nil
}

// ProvisionTimeout returns the per-artifact download timeout
func (c *Config) ProvisionTimeout() time.Duration {
	return time.Duration(c.Provision.TimeoutSeconds) * time.Second
}

// FFmpegTimeout returns the decode timeout for the ffmpeg path
func (c *Config) FFmpegTimeout() time.Duration {
	return time.Duration(c.Audio.FFmpegTimeoutSeconds) * time.Second
}

// RequestTimeout returns the time budget for handling one bot message
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Bot.RequestTimeoutSeconds) * time.Second
}
