// Package captions implements the first-choice extraction strategy: fetching
// the caption track the platform already published for a video. It is the
// cheapest strategy in the chain, so it runs before the paid transcriber and
// the proxy fallback.
package captions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scribe/internal/config"
	"scribe/internal/extract"
	"scribe/internal/logging"
	"scribe/internal/ratelimit"
	"scribe/internal/services"
)

const component = "captions"

// BudgetKey is the default rate-limit budget this strategy draws from.
const BudgetKey = "captions"

// Client fetches published caption tracks over the platform's timedtext
// endpoint. Safe for concurrent use.
type Client struct {
	baseURL    string
	language   string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	budgetKey  string
	log        *slog.Logger
}

// Option customizes client construction.
type Option func(*Client)

// WithBaseURL overrides the timedtext endpoint (used in tests).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.log = logging.NewComponentLogger(logger, component)
		}
	}
}

// New builds a caption client from configuration. The limiter may be nil, in
// which case requests are not throttled (tests only; production wiring always
// passes the shared limiter).
func New(cfg *config.Config, limiter *ratelimit.Limiter, budgetKey string, opts ...Option) *Client {
	client := &Client{
		baseURL:   strings.TrimRight(cfg.Captions.BaseURL, "/"),
		language:  cfg.Captions.Language,
		limiter:   limiter,
		budgetKey: budgetKey,
		log:       logging.NewNop(),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Captions.RequestTimeout) * time.Second,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Name implements extract.Strategy.
func (c *Client) Name() string { return "captions" }

// Extract implements extract.Strategy. It lists the video's published caption
// tracks, picks the configured language (falling back to the default track),
// and fetches the track body.
func (c *Client) Extract(ctx context.Context, req extract.Request) extract.Outcome {
	videoID, err := ParseVideoID(req.SourceURL)
	if err != nil {
		return extract.Permanent(extract.KindContentUnavailable,
			services.Wrap(services.ErrContentUnavailable, component, "parse", "unrecognized source url", err))
	}

	tracks, hint, err := c.listTracks(ctx, videoID)
	if err != nil {
		return withHint(extract.Classify(err), hint)
	}
	track, ok := pickTrack(tracks, c.language)
	if !ok {
		return extract.Permanent(extract.KindContentUnavailable,
			services.Wrap(services.ErrContentUnavailable, component, "list", "no caption track published", nil))
	}

	text, hint, err := c.fetchTrack(ctx, videoID, track.LangCode)
	if err != nil {
		return withHint(extract.Classify(err), hint)
	}
	if strings.TrimSpace(text) == "" {
		return extract.Permanent(extract.KindContentUnavailable,
			services.Wrap(services.ErrContentUnavailable, component, "fetch", "caption track is empty", nil))
	}

	c.log.DebugContext(ctx, "caption track fetched",
		logging.String(logging.FieldItemID, req.ItemID),
		logging.String("lang", track.LangCode),
		logging.Int("chars", len(text)))
	return extract.Success(text)
}

func (c *Client) listTracks(ctx context.Context, videoID string) ([]TrackRef, time.Duration, error) {
	query := url.Values{}
	query.Set("type", "list")
	query.Set("v", videoID)

	body, hint, err := c.get(ctx, "list", c.baseURL+"?"+query.Encode())
	if err != nil {
		return nil, hint, err
	}
	defer body.Close()

	tracks, err := DecodeTrackList(body)
	if err != nil {
		return nil, 0, services.Wrap(services.ErrInternal, component, "list", "decode track list", err)
	}
	return tracks, 0, nil
}

func (c *Client) fetchTrack(ctx context.Context, videoID, lang string) (string, time.Duration, error) {
	query := url.Values{}
	query.Set("lang", lang)
	query.Set("v", videoID)

	body, hint, err := c.get(ctx, "fetch", c.baseURL+"?"+query.Encode())
	if err != nil {
		return "", hint, err
	}
	defer body.Close()

	text, err := DecodeTimedText(body)
	if err != nil {
		return "", 0, services.Wrap(services.ErrInternal, component, "fetch", "decode timedtext", err)
	}
	return text, 0, nil
}

// get issues one metered request: every outbound call pays for its own
// admission against the strategy's rate budget.
func (c *Client) get(ctx context.Context, operation, rawURL string) (io.ReadCloser, time.Duration, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, c.budgetKey); err != nil {
			return nil, 0, services.Wrap(services.ErrTimeout, component, operation, "rate budget wait interrupted", err)
		}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, services.Wrap(services.ErrInternal, component, operation, "build request", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, extract.WrapTransport(component, operation, err)
	}
	if response.StatusCode == http.StatusOK {
		return response.Body, 0, nil
	}
	defer response.Body.Close()
	return nil, extract.RetryAfterHint(response.Header), extract.WrapStatus(component, operation, response.StatusCode)
}

func withHint(outcome extract.Outcome, hint time.Duration) extract.Outcome {
	if outcome.Class == extract.ClassRetryable && hint > outcome.RetryAfter {
		outcome.RetryAfter = hint
	}
	return outcome
}

// ParseVideoID pulls the video identifier out of a watch URL. Both the
// "?v=<id>" query form and the short "/<id>" path form are accepted.
func ParseVideoID(sourceURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if id := parsed.Query().Get("v"); id != "" {
		return id, nil
	}
	if id := strings.Trim(parsed.Path, "/"); id != "" && !strings.Contains(id, "/") {
		return id, nil
	}
	return "", fmt.Errorf("no video id in %q", sourceURL)
}
