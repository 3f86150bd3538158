// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"scribe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.SessionDir = filepath.Join(base, "session")
	cfg.Paths.OutputDir = filepath.Join(base, "transcripts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Transcriber.APIKey = "test"
	cfg.Workers.MaxConcurrency = 2

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithChainOrder overrides the strategy order on the test config.
func WithChainOrder(order ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Chain.Order = order
	}
}

// WithProxyURLs sets the proxy pool on the test config.
func WithProxyURLs(urls ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Proxy.URLs = urls
	}
}

// WithOutputFormat overrides the sink format on the test config.
func WithOutputFormat(format string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Output.Format = format
	}
}
