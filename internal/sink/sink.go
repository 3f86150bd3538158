// Package sink writes extracted transcripts to their final destination. The
// session database keeps the transcript too, but the sink output is what the
// operator actually consumes.
package sink

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"scribe/internal/config"
	"scribe/internal/manifest"
)

// Sink persists one successfully extracted transcript.
type Sink interface {
	// Write stores the transcript for a succeeded item. Write is called at
	// most once per item per run and must be safe for concurrent use.
	Write(ctx context.Context, item *manifest.Item) error
}

// New builds the sink selected by output.format.
func New(cfg *config.Config) (Sink, error) {
	switch cfg.Output.Format {
	case "markdown":
		return NewMarkdown(cfg.Paths.OutputDir), nil
	case "jsonl":
		return NewJSONL(cfg.Paths.OutputDir), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", cfg.Output.Format)
	}
}

var titleCaser = cases.Title(language.English)

// DocumentTitle derives a human-readable heading from an item identifier,
// e.g. "intro-to-go_part2" becomes "Intro To Go Part2".
func DocumentTitle(itemID string) string {
	cleaned := strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(itemID)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return itemID
	}
	return titleCaser.String(cleaned)
}
