package main

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"scribe/internal/extract/captions"
	"scribe/internal/manifest"
)

// readItemsFile parses a batch file into work item specs. Each line holds
// either "id url" (comma, tab, or space separated) or a bare URL, in which
// case the id is derived from the video identifier. Blank lines and lines
// starting with # are skipped.
func readItemsFile(path string) ([]manifest.Spec, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open items file: %w", err)
	}
	defer file.Close()

	var specs []manifest.Spec
	seen := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		spec, err := parseItemLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if prior, dup := seen[spec.ID]; dup {
			if prior != spec.SourceURL {
				return nil, fmt.Errorf("%s:%d: duplicate item id %q with a different url", path, lineNo, spec.ID)
			}
			continue
		}
		seen[spec.ID] = spec.SourceURL
		specs = append(specs, spec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read items file: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%s: no items found", path)
	}
	return specs, nil
}

func parseItemLine(line string) (manifest.Spec, error) {
	var fields []string
	if strings.Contains(line, ",") {
		for _, field := range strings.SplitN(line, ",", 2) {
			fields = append(fields, strings.TrimSpace(field))
		}
	} else {
		fields = strings.Fields(line)
	}

	var spec manifest.Spec
	switch len(fields) {
	case 1:
		id, err := captions.ParseVideoID(fields[0])
		if err != nil {
			return manifest.Spec{}, fmt.Errorf("cannot derive item id: %w", err)
		}
		spec = manifest.Spec{ID: id, SourceURL: fields[0]}
	case 2:
		spec = manifest.Spec{ID: fields[0], SourceURL: fields[1]}
	default:
		return manifest.Spec{}, fmt.Errorf("expected 'id url' or a bare url, got %d fields", len(fields))
	}

	parsed, err := url.Parse(spec.SourceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return manifest.Spec{}, fmt.Errorf("invalid source url %q", spec.SourceURL)
	}
	return spec, nil
}
