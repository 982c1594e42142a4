package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ProviderConfig holds the remote music provider's auth and behavior
// settings (spec.md §6 environment variables).
type ProviderConfig struct {
	APIKey       string `yaml:"api_key" toml:"api_key"`
	UserID       string `yaml:"user_id" toml:"user_id"`
	UserName     string `yaml:"user_name" toml:"user_name"`
	UserPassword string `yaml:"user_password" toml:"user_password"`
	BaseURL      string `yaml:"base_url" toml:"base_url"`
	UseCache     bool   `yaml:"use_cache" toml:"use_cache"`
}

// FFmpegConfig mirrors the teacher's FFmpegConfig shape.
type FFmpegConfig struct {
	BinaryPath   string        `yaml:"binary_path" toml:"binary_path"`
	TimeoutMs    int           `yaml:"timeout_ms" toml:"timeout_ms"`
	MaxStderr    int           `yaml:"max_stderr_buffer_bytes" toml:"max_stderr_buffer_bytes"`
	EnableDebug  bool          `yaml:"stderr_log" toml:"stderr_log"`
	FailFast     bool          `yaml:"fail_fast" toml:"fail_fast"`
	ShutdownWait time.Duration `yaml:"-" toml:"-"`
}

// HttpConfig mirrors spec.md §4.3 defaults.
type HttpConfig struct {
	HeadersTimeoutMs int `yaml:"headers_timeout_ms" toml:"headers_timeout_ms"`
	BodyTimeoutMs    int `yaml:"body_timeout_ms" toml:"body_timeout_ms"`
	StreamTimeoutMs  int `yaml:"stream_timeout_ms" toml:"stream_timeout_ms"`
	MaxRedirects     int `yaml:"max_redirects" toml:"max_redirects"`
}

// LoggerConfig mirrors the teacher's LoggerConfig.
type LoggerConfig struct {
	Level    string `yaml:"level" toml:"level"`
	Format   string `yaml:"format" toml:"format"`
	SaveToDB bool   `yaml:"save_to_db" toml:"save_to_db"`
}

// StoreConfig carries the persistence backend DSN/selection.
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // postgres|redis
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// PipelineConfig is the top-level configuration for the audio pipeline
// and playback core (as distinct from AppConfig, the harness config).
type PipelineConfig struct {
	Provider ProviderConfig `yaml:"provider" toml:"provider"`
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg" toml:"ffmpeg"`
	Http     HttpConfig     `yaml:"http" toml:"http"`
	Logger   LoggerConfig   `yaml:"logger" toml:"logger"`
	Store    StoreConfig    `yaml:"store" toml:"store"`
}

// DefaultPipelineConfig returns the hardcoded fallback configuration,
// matching the numeric defaults fixed by spec.md (redirects=5,
// headers=15s, body=30s, stream=120s, backoff factor 2/min 1s/max 5s
// lives in internal/apperrors.DefaultBackoff).
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Provider: ProviderConfig{UseCache: true, BaseURL: "https://api.music.example"},
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			MaxStderr:  1 << 20,
			FailFast:   true,
		},
		Http: HttpConfig{
			HeadersTimeoutMs: 15000,
			BodyTimeoutMs:    30000,
			StreamTimeoutMs:  120000,
			MaxRedirects:     5,
		},
		Logger: LoggerConfig{Level: "info", Format: "json", SaveToDB: true},
	}
}

// LoadPipelineConfig runs the cascade: defaults → YAML file (if
// present) → TOML file (if present) → environment variables, then
// validates the result. Generalizes the teacher's
// ConfigManager.LoadConfig, which layered its own AudioConfig the same
// way.
func LoadPipelineConfig(yamlPath, tomlPath string) (*PipelineConfig, error) {
	cfg := DefaultPipelineConfig()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse yaml config %s: %w", yamlPath, err)
			}
		}
	}

	if tomlPath != "" {
		if data, err := os.ReadFile(tomlPath); err == nil {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parse toml config %s: %w", tomlPath, err)
			}
		}
	}

	applyPipelineEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyPipelineEnvOverrides(cfg *PipelineConfig) {
	if v := os.Getenv("PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("PROVIDER_USER_ID"); v != "" {
		cfg.Provider.UserID = v
	}
	if v := os.Getenv("PROVIDER_USER_NAME"); v != "" {
		cfg.Provider.UserName = v
	}
	if v := os.Getenv("PROVIDER_USER_PASSWORD"); v != "" {
		cfg.Provider.UserPassword = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v, ok := os.LookupEnv("USE_CACHE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Provider.UseCache = b
		}
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		cfg.FFmpeg.BinaryPath = v
	}
	if _, ok := os.LookupEnv("STDERR_LOG"); ok {
		cfg.FFmpeg.EnableDebug = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
}

// Validate checks internal consistency, mirroring the teacher's
// ConfigManager.Validate/ValidateDependencies split (structural
// validation here; binary/network dependency validation lives with
// the components that own those dependencies, e.g. internal/ffmpeg's
// binary check).
func (c *PipelineConfig) Validate() error {
	if c.Http.MaxRedirects <= 0 {
		return fmt.Errorf("config: http.max_redirects must be positive")
	}
	if c.FFmpeg.MaxStderr <= 0 {
		return fmt.Errorf("config: ffmpeg.max_stderr_buffer_bytes must be positive")
	}
	return nil
}
