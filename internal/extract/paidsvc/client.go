// Package paidsvc implements the paid transcription fallback strategy. The
// upstream service works asynchronously: media is submitted by URL, the
// service transcribes it in the background, and the client polls the job
// until it finishes or the job budget runs out.
package paidsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"scribe/internal/config"
	"scribe/internal/extract"
	"scribe/internal/logging"
	"scribe/internal/ratelimit"
	"scribe/internal/services"
)

const component = "transcriber"

// BudgetKey is the default rate-limit budget this strategy draws from.
const BudgetKey = "transcriber"

const (
	statusAccepted = "accepted"
	statusRunning  = "running"
	statusFinished = "finished"
	statusFailed   = "failed"
)

// Client submits media to the transcription service and polls for results.
// Safe for concurrent use.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	limiter     *ratelimit.Limiter
	budgetKey   string
	pollInitial time.Duration
	pollMax     time.Duration
	jobTimeout  time.Duration
	sleep       func(context.Context, time.Duration) error
	log         *slog.Logger
}

// Option customizes client construction.
type Option func(*Client)

// WithBaseURL overrides the service endpoint (used in tests).
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

// WithPollSchedule overrides the poll backoff bounds (used in tests).
func WithPollSchedule(initial, max time.Duration) Option {
	return func(c *Client) {
		c.pollInitial = initial
		c.pollMax = max
	}
}

// WithJobTimeout overrides the per-job deadline (used in tests).
func WithJobTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.jobTimeout = timeout }
}

// WithSleep overrides the poll sleep (used in tests).
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New builds a transcription client from configuration.
func New(cfg *config.Config, limiter *ratelimit.Limiter, budgetKey string, opts ...Option) *Client {
	client := &Client{
		baseURL:     strings.TrimRight(cfg.Transcriber.BaseURL, "/"),
		apiKey:      cfg.Transcriber.APIKey,
		limiter:     limiter,
		budgetKey:   budgetKey,
		pollInitial: time.Duration(cfg.Transcriber.PollInitialSeconds) * time.Second,
		pollMax:     time.Duration(cfg.Transcriber.PollMaxSeconds) * time.Second,
		jobTimeout:  time.Duration(cfg.Transcriber.JobTimeoutMinutes) * time.Minute,
		sleep:       sleepContext,
		log:         logging.NewNop(),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Name implements extract.Strategy.
func (c *Client) Name() string { return "transcriber" }

// Extract implements extract.Strategy. Only the submission draws from the
// rate budget; polls are status reads and the service does not meter them.
func (c *Client) Extract(ctx context.Context, req extract.Request) extract.Outcome {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, c.budgetKey); err != nil {
			return extract.Retryable(extract.KindTimeout,
				services.Wrap(services.ErrTimeout, component, "acquire", "rate budget wait interrupted", err))
		}
	}

	mediaID, err := c.submit(ctx, req.SourceURL)
	if err != nil {
		return extract.Classify(err)
	}
	c.log.DebugContext(ctx, "media submitted",
		logging.String(logging.FieldItemID, req.ItemID),
		logging.String("media_id", mediaID))

	return c.poll(ctx, req, mediaID)
}

func (c *Client) submit(ctx context.Context, sourceURL string) (string, error) {
	payload, err := json.Marshal(submitRequest{MediaURL: sourceURL})
	if err != nil {
		return "", services.Wrap(services.ErrInternal, component, "submit", "encode request", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/media", bytes.NewReader(payload))
	if err != nil {
		return "", services.Wrap(services.ErrInternal, component, "submit", "build request", err)
	}
	request.Header.Set("Content-Type", "application/json")
	c.authorize(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", extract.WrapTransport(component, "submit", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusCreated {
		return "", extract.WrapStatus(component, "submit", response.StatusCode)
	}

	var media mediaResponse
	if err := json.NewDecoder(response.Body).Decode(&media); err != nil {
		return "", services.Wrap(services.ErrInternal, component, "submit", "decode response", err)
	}
	if media.MediaID == "" {
		return "", services.Wrap(services.ErrInternal, component, "submit", "response missing media id", nil)
	}
	return media.MediaID, nil
}

func (c *Client) poll(ctx context.Context, req extract.Request, mediaID string) extract.Outcome {
	deadline := time.Now().Add(c.jobTimeout)
	interval := c.pollInitial

	for {
		if time.Now().After(deadline) {
			return extract.Retryable(extract.KindTimeout,
				services.Wrap(services.ErrTimeout, component, "poll",
					fmt.Sprintf("job %s did not finish within %s", mediaID, c.jobTimeout), nil))
		}
		if err := c.sleep(ctx, interval); err != nil {
			return extract.Retryable(extract.KindTimeout,
				services.Wrap(services.ErrTimeout, component, "poll", "wait interrupted", err))
		}
		if interval *= 2; interval > c.pollMax {
			interval = c.pollMax
		}

		media, err := c.getMedia(ctx, mediaID)
		if err != nil {
			return extract.Classify(err)
		}

		switch media.Status {
		case statusAccepted, statusRunning, "queued":
			continue
		case statusFinished:
			text := strings.TrimSpace(media.Transcript.Text)
			if text == "" {
				return extract.Permanent(extract.KindContentUnavailable,
					services.Wrap(services.ErrContentUnavailable, component, "poll", "finished job has empty transcript", nil))
			}
			c.log.DebugContext(ctx, "transcription finished",
				logging.String(logging.FieldItemID, req.ItemID),
				logging.String("media_id", mediaID),
				logging.Int("chars", len(text)))
			return extract.Success(text)
		case statusFailed:
			message := media.Reason
			if message == "" {
				message = "transcription job failed"
			}
			return extract.Permanent(extract.KindContentUnavailable,
				services.Wrap(services.ErrContentUnavailable, component, "poll", message, nil))
		default:
			return extract.Permanent(extract.KindInternal,
				services.Wrap(services.ErrInternal, component, "poll",
					fmt.Sprintf("unknown job status %q", media.Status), nil))
		}
	}
}

func (c *Client) getMedia(ctx context.Context, mediaID string) (*mediaResponse, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/media/"+mediaID, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, component, "poll", "build request", err)
	}
	c.authorize(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, extract.WrapTransport(component, "poll", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, extract.WrapStatus(component, "poll", response.StatusCode)
	}

	var media mediaResponse
	if err := json.NewDecoder(response.Body).Decode(&media); err != nil {
		return nil, services.Wrap(services.ErrInternal, component, "poll", "decode response", err)
	}
	return &media, nil
}

func (c *Client) authorize(request *http.Request) {
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

type submitRequest struct {
	MediaURL string `json:"mediaUrl"`
}

type mediaResponse struct {
	MediaID    string `json:"mediaId"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Transcript struct {
		Text string `json:"text"`
	} `json:"transcript"`
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
