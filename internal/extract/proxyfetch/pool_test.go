package proxyfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/extract"
	"scribe/internal/ratelimit"
)

const sampleTranscript = `<?xml version="1.0" encoding="utf-8"?>
<transcript>
  <text start="0.0" dur="2.5">proxied line one</text>
  <text start="2.5" dur="2.0">proxied line two</text>
</transcript>`

// newProxyServer stands in for a forward proxy: the client sends it the
// absolute-form request and it answers in place of the upstream.
func newProxyServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func poolConfig(proxyURLs ...string) *config.Config {
	cfg := config.Default()
	cfg.Proxy.URLs = proxyURLs
	cfg.Proxy.RequestTimeout = 5
	cfg.Captions.BaseURL = "http://captions.test/timedtext"
	cfg.Captions.Language = "en"
	return &cfg
}

func TestExtractThroughProxy(t *testing.T) {
	proxy := newProxyServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("v") != "abc123" || r.URL.Query().Get("lang") != "en" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(sampleTranscript))
	})

	pool, err := New(poolConfig(proxy.URL), nil, BudgetKey)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	outcome := pool.Extract(context.Background(), extract.Request{
		ItemID:    "vid-1",
		SourceURL: "https://example.com/watch?v=abc123",
	})
	if outcome.Class != extract.ClassSuccess {
		t.Fatalf("expected success, got %s: %v", outcome.Class, outcome.Err)
	}
	if outcome.Transcript != "proxied line one\nproxied line two" {
		t.Errorf("transcript = %q", outcome.Transcript)
	}
}

func TestExtractMetersEveryProxyAttempt(t *testing.T) {
	var deadHits atomic.Int32
	dead := newProxyServer(t, func(w http.ResponseWriter, _ *http.Request) {
		deadHits.Add(1)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	limiter := ratelimit.New()
	if err := limiter.Register(BudgetKey, 4, time.Hour); err != nil {
		t.Fatalf("register: %v", err)
	}
	pool, err := New(poolConfig(dead.URL, dead.URL), limiter, BudgetKey)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	outcome := pool.Extract(context.Background(), extract.Request{SourceURL: "https://example.com/watch?v=abc123"})
	if outcome.Class != extract.ClassRetryable {
		t.Fatalf("expected retryable, got %s: %v", outcome.Class, outcome.Err)
	}
	if deadHits.Load() != 2 {
		t.Fatalf("expected 2 proxy fetches, got %d", deadHits.Load())
	}
	if used, _, _ := limiter.Snapshot(BudgetKey); int32(used) != deadHits.Load() {
		t.Errorf("admissions = %d, proxy fetches = %d", used, deadHits.Load())
	}
}

func TestExtractSecondProxyWaitsForOwnAdmission(t *testing.T) {
	var deadHits atomic.Int32
	dead := newProxyServer(t, func(w http.ResponseWriter, _ *http.Request) {
		deadHits.Add(1)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	limiter := ratelimit.New()
	if err := limiter.Register(BudgetKey, 1, time.Hour); err != nil {
		t.Fatalf("register: %v", err)
	}
	pool, err := New(poolConfig(dead.URL, dead.URL), limiter, BudgetKey)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	outcome := pool.Extract(ctx, extract.Request{SourceURL: "https://example.com/watch?v=abc123"})
	if outcome.Class != extract.ClassRetryable {
		t.Fatalf("expected retryable, got %s: %v", outcome.Class, outcome.Err)
	}
	if deadHits.Load() != 1 {
		t.Errorf("rotation issued without its own admission: %d fetches on a 1-unit budget", deadHits.Load())
	}
}

func TestExtractRotatesOnProxyFailure(t *testing.T) {
	var deadHits atomic.Int32
	dead := newProxyServer(t, func(w http.ResponseWriter, _ *http.Request) {
		deadHits.Add(1)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	alive := newProxyServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleTranscript))
	})

	pool, err := New(poolConfig(dead.URL, alive.URL), nil, BudgetKey)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	outcome := pool.Extract(context.Background(), extract.Request{SourceURL: "https://example.com/watch?v=abc123"})
	if outcome.Class != extract.ClassSuccess {
		t.Fatalf("expected success after rotation, got %s: %v", outcome.Class, outcome.Err)
	}
	if deadHits.Load() != 1 {
		t.Errorf("expected 1 hit on the dead proxy, got %d", deadHits.Load())
	}
}

func TestExtractAllProxiesFailIsRetryable(t *testing.T) {
	var hits atomic.Int32
	dead := newProxyServer(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	pool, err := New(poolConfig(dead.URL, dead.URL, dead.URL), nil, BudgetKey)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	outcome := pool.Extract(context.Background(), extract.Request{SourceURL: "https://example.com/watch?v=abc123"})
	if outcome.Class != extract.ClassRetryable || outcome.Kind != extract.KindNetworkError {
		t.Fatalf("expected retryable network_error, got %s/%s", outcome.Class, outcome.Kind)
	}
	// One invocation burns at most two proxies.
	if hits.Load() != 2 {
		t.Errorf("expected exactly 2 proxy attempts, got %d", hits.Load())
	}
}

func TestExtractContentFailureDoesNotRotate(t *testing.T) {
	var hits atomic.Int32
	proxy := newProxyServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	})

	pool, err := New(poolConfig(proxy.URL, proxy.URL), nil, BudgetKey)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	outcome := pool.Extract(context.Background(), extract.Request{SourceURL: "https://example.com/watch?v=abc123"})
	if outcome.Class != extract.ClassPermanent || outcome.Kind != extract.KindContentUnavailable {
		t.Fatalf("expected permanent content_unavailable, got %s/%s", outcome.Class, outcome.Kind)
	}
	if hits.Load() != 1 {
		t.Errorf("content failure must not rotate proxies, got %d hits", hits.Load())
	}
}

func TestNewRejectsEmptyPool(t *testing.T) {
	cfg := config.Default()
	cfg.Proxy.URLs = nil
	if _, err := New(&cfg, nil, BudgetKey); err == nil {
		t.Fatal("expected error for empty proxy pool")
	}
}
