package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	SessionDir string `toml:"session_dir"`
	OutputDir  string `toml:"output_dir"`
	LogDir     string `toml:"log_dir"`
}

// Workers contains worker pool sizing and liveness settings.
type Workers struct {
	MaxConcurrency    int `toml:"max_concurrency"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
	HeartbeatTimeout  int `toml:"heartbeat_timeout"`
}

// Budget describes one rate-limit budget: at most Capacity admissions per
// rolling window of WindowSeconds.
type Budget struct {
	Capacity      int `toml:"capacity"`
	WindowSeconds int `toml:"window_seconds"`
}

// RateLimits contains the per-strategy rate budgets. When Shared is set,
// all strategies draw from one pool keyed by "shared" instead of their own.
type RateLimits struct {
	Shared      bool   `toml:"shared"`
	Captions    Budget `toml:"captions"`
	Transcriber Budget `toml:"transcriber"`
	Proxy       Budget `toml:"proxy"`
}

// Chain contains the strategy ordering and retry policy.
type Chain struct {
	Order      []string `toml:"order"`
	MaxRetries int      `toml:"max_retries"`
	// RetryBackoffSeconds is the base delay before retrying the same
	// strategy; doubled per retry.
	RetryBackoffSeconds int `toml:"retry_backoff_seconds"`
}

// Captions contains configuration for the platform caption-track strategy.
type Captions struct {
	BaseURL        string `toml:"base_url"`
	Language       string `toml:"language"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Transcriber contains configuration for the paid transcription service.
type Transcriber struct {
	BaseURL            string `toml:"base_url"`
	APIKey             string `toml:"api_key"`
	PollInitialSeconds int    `toml:"poll_initial_seconds"`
	PollMaxSeconds     int    `toml:"poll_max_seconds"`
	JobTimeoutMinutes  int    `toml:"job_timeout_minutes"`
}

// Proxy contains configuration for the proxy-routed fetch strategy.
type Proxy struct {
	URLs           []string `toml:"urls"`
	RequestTimeout int      `toml:"request_timeout"`
}

// Output contains configuration for the transcript sink.
type Output struct {
	Format string `toml:"format"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for scribe.
//
// Configuration sections by subsystem:
//   - Paths: session manifest, transcript output, and log directories
//   - Workers: pool size and heartbeat liveness settings
//   - RateLimits: per-strategy admission budgets
//   - Chain: strategy order and per-strategy retry policy
//   - Captions: platform caption-track fetch settings
//   - Transcriber: paid transcription service settings
//   - Proxy: proxy-routed fetch settings
//   - Output: transcript sink format
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Workers     Workers     `toml:"workers"`
	RateLimits  RateLimits  `toml:"rate_limits"`
	Chain       Chain       `toml:"chain"`
	Captions    Captions    `toml:"captions"`
	Transcriber Transcriber `toml:"transcriber"`
	Proxy       Proxy       `toml:"proxy"`
	Output      Output      `toml:"output"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/scribe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a file was actually found at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("scribe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories scribe writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.SessionDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
