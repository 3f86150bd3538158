package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownStrategies = map[string]struct{}{
	"captions":    {},
	"transcriber": {},
	"proxy":       {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateRateLimits(); err != nil {
		return err
	}
	if err := c.validateChain(); err != nil {
		return err
	}
	if err := c.validateTranscriber(); err != nil {
		return err
	}
	if err := c.validateProxy(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.MaxConcurrency < 1 {
		return errors.New("workers.max_concurrency must be at least 1")
	}
	if c.Workers.HeartbeatInterval <= 0 {
		return errors.New("workers.heartbeat_interval must be positive")
	}
	if c.Workers.HeartbeatTimeout <= c.Workers.HeartbeatInterval {
		return errors.New("workers.heartbeat_timeout must be greater than workers.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateRateLimits() error {
	for key, budget := range map[string]Budget{
		"rate_limits.captions":    c.RateLimits.Captions,
		"rate_limits.transcriber": c.RateLimits.Transcriber,
		"rate_limits.proxy":       c.RateLimits.Proxy,
	} {
		if budget.Capacity < 1 {
			return fmt.Errorf("%s.capacity must be at least 1", key)
		}
		if budget.WindowSeconds < 1 {
			return fmt.Errorf("%s.window_seconds must be at least 1", key)
		}
	}
	return nil
}

func (c *Config) validateChain() error {
	if len(c.Chain.Order) == 0 {
		return errors.New("chain.order must include at least one strategy")
	}
	for _, name := range c.Chain.Order {
		if _, ok := knownStrategies[name]; !ok {
			return fmt.Errorf("chain.order contains unknown strategy %q (known: captions, transcriber, proxy)", name)
		}
	}
	if c.Chain.MaxRetries < 0 {
		return errors.New("chain.max_retries must be >= 0")
	}
	return nil
}

func (c *Config) validateTranscriber() error {
	if !c.chainIncludes("transcriber") {
		return nil
	}
	if strings.TrimSpace(c.Transcriber.APIKey) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/scribe/config.toml"
		}
		return fmt.Errorf("transcriber.api_key is required when the transcriber strategy is in chain.order. Set SCRIBE_TRANSCRIBER_API_KEY or edit %s (create with 'scribe config init')", defaultPath)
	}
	if c.Transcriber.PollMaxSeconds < c.Transcriber.PollInitialSeconds {
		return errors.New("transcriber.poll_max_seconds must be >= transcriber.poll_initial_seconds")
	}
	return nil
}

func (c *Config) validateProxy() error {
	if !c.chainIncludes("proxy") {
		return nil
	}
	if len(c.Proxy.URLs) == 0 {
		return errors.New("proxy.urls must include at least one proxy when the proxy strategy is in chain.order")
	}
	return nil
}

func (c *Config) chainIncludes(name string) bool {
	for _, entry := range c.Chain.Order {
		if entry == name {
			return true
		}
	}
	return false
}
