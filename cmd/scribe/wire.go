package main

import (
	"fmt"
	"log/slog"

	"scribe/internal/config"
	"scribe/internal/extract"
	"scribe/internal/extract/captions"
	"scribe/internal/extract/paidsvc"
	"scribe/internal/extract/proxyfetch"
	"scribe/internal/ratelimit"
)

// buildStrategies constructs the chain's strategies in configured order,
// each bound to its rate budget.
func buildStrategies(cfg *config.Config, limiter *ratelimit.Limiter, logger *slog.Logger) ([]extract.Strategy, error) {
	strategies := make([]extract.Strategy, 0, len(cfg.Chain.Order))
	for _, name := range cfg.Chain.Order {
		key := ratelimit.BudgetKey(cfg, name)
		switch name {
		case "captions":
			strategies = append(strategies, captions.New(cfg, limiter, key, captions.WithLogger(logger)))
		case "transcriber":
			strategies = append(strategies, paidsvc.New(cfg, limiter, key, paidsvc.WithLogger(logger)))
		case "proxy":
			pool, err := proxyfetch.New(cfg, limiter, key, proxyfetch.WithLogger(logger))
			if err != nil {
				return nil, fmt.Errorf("build proxy strategy: %w", err)
			}
			strategies = append(strategies, pool)
		default:
			return nil, fmt.Errorf("unknown strategy %q in chain.order", name)
		}
	}
	return strategies, nil
}
