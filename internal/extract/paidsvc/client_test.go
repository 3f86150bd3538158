package paidsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/extract"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Transcriber.APIKey = "test-key"
	return &cfg
}

func instantSleep(_ context.Context, _ time.Duration) error { return nil }

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	base := []Option{
		WithBaseURL(server.URL),
		WithSleep(instantSleep),
		WithPollSchedule(time.Millisecond, time.Millisecond),
		WithJobTimeout(5 * time.Second),
	}
	return New(testConfig(), nil, BudgetKey, append(base, opts...)...)
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestExtractSubmitPollFinish(t *testing.T) {
	var polls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/media":
			var req submitRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MediaURL == "" {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			writeJSON(t, w, http.StatusCreated, mediaResponse{MediaID: "m-1", Status: statusAccepted})
		case r.Method == http.MethodGet && r.URL.Path == "/media/m-1":
			if polls.Add(1) < 3 {
				writeJSON(t, w, http.StatusOK, mediaResponse{MediaID: "m-1", Status: statusRunning})
				return
			}
			resp := mediaResponse{MediaID: "m-1", Status: statusFinished}
			resp.Transcript.Text = "transcribed text"
			writeJSON(t, w, http.StatusOK, resp)
		default:
			http.NotFound(w, r)
		}
	})

	client := newTestClient(t, handler)
	outcome := client.Extract(context.Background(), extract.Request{
		ItemID:    "vid-1",
		SourceURL: "https://example.com/watch?v=abc123",
	})
	if outcome.Class != extract.ClassSuccess {
		t.Fatalf("expected success, got %s: %v", outcome.Class, outcome.Err)
	}
	if outcome.Transcript != "transcribed text" {
		t.Errorf("transcript = %q", outcome.Transcript)
	}
	if polls.Load() < 3 {
		t.Errorf("expected at least 3 polls, got %d", polls.Load())
	}
}

func TestExtractFailedJobIsPermanent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(t, w, http.StatusCreated, mediaResponse{MediaID: "m-1", Status: statusAccepted})
			return
		}
		writeJSON(t, w, http.StatusOK, mediaResponse{MediaID: "m-1", Status: statusFailed, Reason: "unsupported codec"})
	})

	client := newTestClient(t, handler)
	outcome := client.Extract(context.Background(), extract.Request{SourceURL: "https://example.com/watch?v=x"})
	if outcome.Class != extract.ClassPermanent || outcome.Kind != extract.KindContentUnavailable {
		t.Fatalf("expected permanent content_unavailable, got %s/%s", outcome.Class, outcome.Kind)
	}
}

func TestExtractJobTimeoutIsRetryable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(t, w, http.StatusCreated, mediaResponse{MediaID: "m-1", Status: statusAccepted})
			return
		}
		writeJSON(t, w, http.StatusOK, mediaResponse{MediaID: "m-1", Status: statusRunning})
	})

	client := newTestClient(t, handler, WithJobTimeout(10*time.Millisecond), WithSleep(sleepContext), WithPollSchedule(5*time.Millisecond, 5*time.Millisecond))
	outcome := client.Extract(context.Background(), extract.Request{SourceURL: "https://example.com/watch?v=x"})
	if outcome.Class != extract.ClassRetryable || outcome.Kind != extract.KindTimeout {
		t.Fatalf("expected retryable timeout, got %s/%s", outcome.Class, outcome.Kind)
	}
}

func TestExtractUnauthorizedIsPermanent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	client := newTestClient(t, handler)
	outcome := client.Extract(context.Background(), extract.Request{SourceURL: "https://example.com/watch?v=x"})
	if outcome.Class != extract.ClassPermanent || outcome.Kind != extract.KindAuthExpired {
		t.Fatalf("expected permanent auth_expired, got %s/%s", outcome.Class, outcome.Kind)
	}
}

func TestExtractQuotaExhaustedIsPermanent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "payment required", http.StatusPaymentRequired)
	})

	client := newTestClient(t, handler)
	outcome := client.Extract(context.Background(), extract.Request{SourceURL: "https://example.com/watch?v=x"})
	if outcome.Class != extract.ClassPermanent || outcome.Kind != extract.KindQuotaExhausted {
		t.Fatalf("expected permanent quota_exhausted, got %s/%s", outcome.Class, outcome.Kind)
	}
}

func TestExtractEmptyTranscriptIsPermanent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(t, w, http.StatusCreated, mediaResponse{MediaID: "m-1", Status: statusAccepted})
			return
		}
		writeJSON(t, w, http.StatusOK, mediaResponse{MediaID: "m-1", Status: statusFinished})
	})

	client := newTestClient(t, handler)
	outcome := client.Extract(context.Background(), extract.Request{SourceURL: "https://example.com/watch?v=x"})
	if outcome.Class != extract.ClassPermanent || outcome.Kind != extract.KindContentUnavailable {
		t.Fatalf("expected permanent content_unavailable, got %s/%s", outcome.Class, outcome.Kind)
	}
}
