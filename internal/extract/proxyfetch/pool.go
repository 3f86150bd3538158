// Package proxyfetch implements the last-resort extraction strategy: fetching
// the caption endpoint through a rotating pool of egress proxies. It exists
// for sources that throttle or block the direct caption fetch; the wire
// format is the same timedtext the captions strategy reads.
package proxyfetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"scribe/internal/config"
	"scribe/internal/extract"
	"scribe/internal/extract/captions"
	"scribe/internal/logging"
	"scribe/internal/ratelimit"
	"scribe/internal/services"
)

const component = "proxy"

// BudgetKey is the default rate-limit budget this strategy draws from.
const BudgetKey = "proxy"

// maxProxiesPerAttempt bounds how many pool members one invocation burns
// through before reporting a retryable network failure.
const maxProxiesPerAttempt = 2

type endpoint struct {
	proxyURL *url.URL
	client   *http.Client
}

// Pool routes caption fetches through configured proxies, rotating on
// transport failures. Safe for concurrent use.
type Pool struct {
	endpoints []endpoint
	next      atomic.Uint64
	baseURL   string
	language  string
	limiter   *ratelimit.Limiter
	budgetKey string
	log       *slog.Logger
}

// Option customizes pool construction.
type Option func(*Pool)

// WithBaseURL overrides the caption endpoint fetched through the proxies.
func WithBaseURL(baseURL string) Option {
	return func(p *Pool) { p.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.log = logging.NewComponentLogger(logger, component)
		}
	}
}

// New builds a proxy pool from configuration. Every configured proxy URL must
// parse; an empty pool is a configuration error caught by config validation,
// but it is rejected here as well for direct construction.
func New(cfg *config.Config, limiter *ratelimit.Limiter, budgetKey string, opts ...Option) (*Pool, error) {
	if len(cfg.Proxy.URLs) == 0 {
		return nil, fmt.Errorf("proxy pool requires at least one proxy url")
	}

	timeout := time.Duration(cfg.Proxy.RequestTimeout) * time.Second
	endpoints := make([]endpoint, 0, len(cfg.Proxy.URLs))
	for _, raw := range cfg.Proxy.URLs {
		proxyURL, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parse proxy url %q: %w", raw, err)
		}
		endpoints = append(endpoints, endpoint{
			proxyURL: proxyURL,
			client: &http.Client{
				Timeout:   timeout,
				Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
			},
		})
	}

	pool := &Pool{
		endpoints: endpoints,
		baseURL:   strings.TrimRight(cfg.Captions.BaseURL, "/"),
		language:  cfg.Captions.Language,
		limiter:   limiter,
		budgetKey: budgetKey,
		log:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool, nil
}

// Name implements extract.Strategy.
func (p *Pool) Name() string { return "proxy" }

// Extract implements extract.Strategy. It fetches the caption track for the
// configured language directly, rotating to the next proxy on transport
// failures. Content-level failures are not a proxy problem, so they end the
// invocation without burning another pool member.
func (p *Pool) Extract(ctx context.Context, req extract.Request) extract.Outcome {
	videoID, err := captions.ParseVideoID(req.SourceURL)
	if err != nil {
		return extract.Permanent(extract.KindContentUnavailable,
			services.Wrap(services.ErrContentUnavailable, component, "parse", "unrecognized source url", err))
	}

	tries := maxProxiesPerAttempt
	if len(p.endpoints) < tries {
		tries = len(p.endpoints)
	}

	var lastErr error
	for try := 0; try < tries; try++ {
		if err := ctx.Err(); err != nil {
			return extract.Retryable(extract.KindTimeout,
				services.Wrap(services.ErrTimeout, component, "fetch", "canceled", err))
		}

		ep := p.pick()
		text, hint, err := p.fetch(ctx, ep, videoID)
		if err == nil {
			if strings.TrimSpace(text) == "" {
				return extract.Permanent(extract.KindContentUnavailable,
					services.Wrap(services.ErrContentUnavailable, component, "fetch", "caption track is empty", nil))
			}
			p.log.DebugContext(ctx, "caption track fetched via proxy",
				logging.String(logging.FieldItemID, req.ItemID),
				logging.String("proxy", ep.proxyURL.Host),
				logging.Int("chars", len(text)))
			return extract.Success(text)
		}

		outcome := extract.Classify(err)
		if outcome.Class == extract.ClassPermanent || outcome.Kind == extract.KindRateLimited {
			if hint > outcome.RetryAfter {
				outcome.RetryAfter = hint
			}
			return outcome
		}

		p.log.DebugContext(ctx, "proxy failed, rotating",
			logging.String(logging.FieldItemID, req.ItemID),
			logging.String("proxy", ep.proxyURL.Host),
			logging.Error(err))
		lastErr = err
	}

	return extract.Retryable(extract.KindNetworkError,
		services.Wrap(services.ErrNetwork, component, "fetch",
			fmt.Sprintf("%d proxies failed", tries), lastErr))
}

func (p *Pool) pick() endpoint {
	idx := p.next.Add(1) - 1
	return p.endpoints[idx%uint64(len(p.endpoints))]
}

// fetch issues one metered request through ep: every proxy attempt pays for
// its own admission against the strategy's rate budget.
func (p *Pool) fetch(ctx context.Context, ep endpoint, videoID string) (string, time.Duration, error) {
	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx, p.budgetKey); err != nil {
			return "", 0, services.Wrap(services.ErrTimeout, component, "fetch", "rate budget wait interrupted", err)
		}
	}

	query := url.Values{}
	query.Set("lang", p.language)
	query.Set("v", videoID)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", 0, services.Wrap(services.ErrInternal, component, "fetch", "build request", err)
	}

	response, err := ep.client.Do(request)
	if err != nil {
		return "", 0, extract.WrapTransport(component, "fetch", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", extract.RetryAfterHint(response.Header), extract.WrapStatus(component, "fetch", response.StatusCode)
	}

	text, err := captions.DecodeTimedText(response.Body)
	if err != nil {
		return "", 0, services.Wrap(services.ErrInternal, component, "fetch", "decode timedtext", err)
	}
	return text, 0, nil
}
