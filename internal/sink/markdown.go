package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scribe/internal/manifest"
)

// Markdown writes one document per transcript. Files are written atomically
// via a temp file rename so a crash never leaves a half-written document.
type Markdown struct {
	dir string
}

// NewMarkdown builds a markdown sink rooted at dir.
func NewMarkdown(dir string) *Markdown {
	return &Markdown{dir: dir}
}

// Write implements Sink.
func (m *Markdown) Write(_ context.Context, item *manifest.Item) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var doc strings.Builder
	fmt.Fprintf(&doc, "# %s\n\n", DocumentTitle(item.ID))
	fmt.Fprintf(&doc, "- Source: %s\n", item.SourceURL)
	fmt.Fprintf(&doc, "- Strategy: %s\n", item.StrategyUsed)
	if item.ExtractedAt != nil {
		fmt.Fprintf(&doc, "- Extracted: %s\n", item.ExtractedAt.UTC().Format(time.RFC3339))
	}
	doc.WriteString("\n")
	doc.WriteString(item.Transcript)
	if !strings.HasSuffix(item.Transcript, "\n") {
		doc.WriteString("\n")
	}

	target := filepath.Join(m.dir, item.ID+".md")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, []byte(doc.String()), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize transcript: %w", err)
	}
	return nil
}
