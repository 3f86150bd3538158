package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/manifest"
)

func succeededItem(id string) *manifest.Item {
	extracted := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	return &manifest.Item{
		ID:           id,
		SourceURL:    "https://example.com/watch?v=" + id,
		Status:       manifest.StatusSucceeded,
		Transcript:   "line one\nline two",
		StrategyUsed: "captions",
		ExtractedAt:  &extracted,
	}
}

func TestDocumentTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"intro-to-go", "Intro To Go"},
		{"episode_42.final", "Episode 42 Final"},
		{"single", "Single"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := DocumentTitle(tt.input); got != tt.want {
			t.Errorf("DocumentTitle(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestMarkdownWrite(t *testing.T) {
	dir := t.TempDir()
	s := NewMarkdown(dir)

	if err := s.Write(context.Background(), succeededItem("intro-to-go")); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "intro-to-go.md"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "# Intro To Go\n") {
		t.Errorf("missing title heading:\n%s", content)
	}
	if !strings.Contains(content, "- Strategy: captions\n") {
		t.Errorf("missing strategy line:\n%s", content)
	}
	if !strings.Contains(content, "line one\nline two\n") {
		t.Errorf("missing transcript body:\n%s", content)
	}
	if entries, _ := filepath.Glob(filepath.Join(dir, "*.tmp")); len(entries) != 0 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestJSONLWriteConcurrent(t *testing.T) {
	dir := t.TempDir()
	s := NewJSONL(dir)

	ids := []string{"a1", "b2", "c3", "d4", "e5"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.Write(context.Background(), succeededItem(id)); err != nil {
				t.Errorf("write %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	file, err := os.Open(s.Path())
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()

	seen := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record struct {
			ID         string `json:"id"`
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("malformed line %q: %v", scanner.Text(), err)
		}
		seen[record.ID] = true
		if record.Transcript == "" {
			t.Errorf("record %s missing transcript", record.ID)
		}
	}
	if len(seen) != len(ids) {
		t.Fatalf("expected %d records, got %d", len(ids), len(seen))
	}
}

func TestNewSelectsFormat(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.OutputDir = t.TempDir()

	cfg.Output.Format = "markdown"
	if s, err := New(&cfg); err != nil {
		t.Fatalf("markdown: %v", err)
	} else if _, ok := s.(*Markdown); !ok {
		t.Errorf("expected *Markdown, got %T", s)
	}

	cfg.Output.Format = "jsonl"
	if s, err := New(&cfg); err != nil {
		t.Fatalf("jsonl: %v", err)
	} else if _, ok := s.(*JSONL); !ok {
		t.Errorf("expected *JSONL, got %T", s)
	}

	cfg.Output.Format = "yaml"
	if _, err := New(&cfg); err == nil {
		t.Error("expected error for unknown format")
	}
}
