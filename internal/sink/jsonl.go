package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"scribe/internal/manifest"
)

// JSONL appends one JSON record per transcript to a single file. A mutex
// serializes appends; each record is a single write so lines never interleave.
type JSONL struct {
	mu   sync.Mutex
	path string
}

// NewJSONL builds a JSONL sink writing to transcripts.jsonl under dir.
func NewJSONL(dir string) *JSONL {
	return &JSONL{path: filepath.Join(dir, "transcripts.jsonl")}
}

// Path returns the output file location.
func (j *JSONL) Path() string { return j.path }

type jsonlRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	SourceURL   string `json:"source_url"`
	Strategy    string `json:"strategy"`
	ExtractedAt string `json:"extracted_at,omitempty"`
	Transcript  string `json:"transcript"`
}

// Write implements Sink.
func (j *JSONL) Write(_ context.Context, item *manifest.Item) error {
	record := jsonlRecord{
		ID:         item.ID,
		Title:      DocumentTitle(item.ID),
		SourceURL:  item.SourceURL,
		Strategy:   item.StrategyUsed,
		Transcript: item.Transcript,
	}
	if item.ExtractedAt != nil {
		record.ExtractedAt = item.ExtractedAt.UTC().Format(time.RFC3339)
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode transcript record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("append transcript record: %w", err)
	}
	return nil
}
