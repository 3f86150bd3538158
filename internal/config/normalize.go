package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkers()
	c.normalizeRateLimits()
	c.normalizeChain()
	c.normalizeCaptions()
	c.normalizeTranscriber()
	c.normalizeProxy()
	c.normalizeOutput()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.SessionDir) == "" {
		c.Paths.SessionDir = defaultSessionDir
	}
	if c.Paths.SessionDir, err = expandPath(c.Paths.SessionDir); err != nil {
		return fmt.Errorf("paths.session_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorkers() {
	if c.Workers.MaxConcurrency <= 0 {
		c.Workers.MaxConcurrency = defaultMaxConcurrency
	}
	if c.Workers.HeartbeatInterval <= 0 {
		c.Workers.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workers.HeartbeatTimeout <= 0 {
		c.Workers.HeartbeatTimeout = defaultHeartbeatTimeout
	}
}

func normalizeBudget(b *Budget, fallback Budget) {
	if b.Capacity <= 0 {
		b.Capacity = fallback.Capacity
	}
	if b.WindowSeconds <= 0 {
		b.WindowSeconds = fallback.WindowSeconds
	}
}

func (c *Config) normalizeRateLimits() {
	defaults := Default().RateLimits
	normalizeBudget(&c.RateLimits.Captions, defaults.Captions)
	normalizeBudget(&c.RateLimits.Transcriber, defaults.Transcriber)
	normalizeBudget(&c.RateLimits.Proxy, defaults.Proxy)
}

func (c *Config) normalizeChain() {
	order := make([]string, 0, len(c.Chain.Order))
	seen := make(map[string]struct{}, len(c.Chain.Order))
	for _, name := range c.Chain.Order {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		order = append(order, normalized)
	}
	if len(order) == 0 {
		order = Default().Chain.Order
	}
	c.Chain.Order = order
	if c.Chain.MaxRetries < 0 {
		c.Chain.MaxRetries = defaultChainMaxRetries
	}
	if c.Chain.RetryBackoffSeconds <= 0 {
		c.Chain.RetryBackoffSeconds = defaultRetryBackoffSeconds
	}
}

func (c *Config) normalizeCaptions() {
	c.Captions.BaseURL = strings.TrimSpace(c.Captions.BaseURL)
	if c.Captions.BaseURL == "" {
		c.Captions.BaseURL = defaultCaptionsBaseURL
	}
	c.Captions.Language = strings.ToLower(strings.TrimSpace(c.Captions.Language))
	if c.Captions.Language == "" {
		c.Captions.Language = defaultCaptionsLanguage
	}
	if c.Captions.RequestTimeout <= 0 {
		c.Captions.RequestTimeout = defaultCaptionsTimeout
	}
}

func (c *Config) normalizeTranscriber() {
	c.Transcriber.BaseURL = strings.TrimSpace(c.Transcriber.BaseURL)
	if c.Transcriber.BaseURL == "" {
		c.Transcriber.BaseURL = defaultTranscriberBaseURL
	}
	c.Transcriber.APIKey = strings.TrimSpace(c.Transcriber.APIKey)
	if c.Transcriber.APIKey == "" {
		if value, ok := os.LookupEnv("SCRIBE_TRANSCRIBER_API_KEY"); ok {
			c.Transcriber.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Transcriber.PollInitialSeconds <= 0 {
		c.Transcriber.PollInitialSeconds = defaultTranscriberPollFirst
	}
	if c.Transcriber.PollMaxSeconds <= 0 {
		c.Transcriber.PollMaxSeconds = defaultTranscriberPollMax
	}
	if c.Transcriber.JobTimeoutMinutes <= 0 {
		c.Transcriber.JobTimeoutMinutes = defaultTranscriberJobTimeout
	}
}

func (c *Config) normalizeProxy() {
	urls := make([]string, 0, len(c.Proxy.URLs))
	seen := make(map[string]struct{}, len(c.Proxy.URLs))
	for _, raw := range c.Proxy.URLs {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		urls = append(urls, trimmed)
	}
	c.Proxy.URLs = urls
	if c.Proxy.RequestTimeout <= 0 {
		c.Proxy.RequestTimeout = defaultProxyTimeout
	}
}

func (c *Config) normalizeOutput() {
	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
	switch c.Output.Format {
	case "", "markdown":
		c.Output.Format = "markdown"
	case "jsonl":
	default:
		c.Output.Format = "markdown"
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
