package ratelimit

import (
	"time"

	"scribe/internal/config"
)

// SharedKey is the budget key every strategy draws from when the operator
// opts into a single shared pool.
const SharedKey = "shared"

// FromConfig builds a limiter with one budget per strategy. When
// rate_limits.shared is set, a single pool is registered instead, sized by
// the captions budget since that is the strategy the pool replaces first.
func FromConfig(cfg *config.Config, opts ...Option) (*Limiter, error) {
	limiter := New(opts...)

	if cfg.RateLimits.Shared {
		if err := register(limiter, SharedKey, cfg.RateLimits.Captions); err != nil {
			return nil, err
		}
		return limiter, nil
	}

	budgets := map[string]config.Budget{
		"captions":    cfg.RateLimits.Captions,
		"transcriber": cfg.RateLimits.Transcriber,
		"proxy":       cfg.RateLimits.Proxy,
	}
	for key, budget := range budgets {
		if err := register(limiter, key, budget); err != nil {
			return nil, err
		}
	}
	return limiter, nil
}

// BudgetKey returns the budget a strategy should acquire from under the
// given configuration.
func BudgetKey(cfg *config.Config, strategy string) string {
	if cfg.RateLimits.Shared {
		return SharedKey
	}
	return strategy
}

func register(limiter *Limiter, key string, budget config.Budget) error {
	return limiter.Register(key, budget.Capacity, time.Duration(budget.WindowSeconds)*time.Second)
}
