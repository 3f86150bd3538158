package captions

import (
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"strings"
)

// TrackRef describes one published caption track from the track list.
type TrackRef struct {
	LangCode string `xml:"lang_code,attr"`
	Name     string `xml:"name,attr"`
	Default  bool   `xml:"lang_default,attr"`
}

type trackList struct {
	XMLName xml.Name   `xml:"transcript_list"`
	Tracks  []TrackRef `xml:"track"`
}

type timedText struct {
	XMLName xml.Name    `xml:"transcript"`
	Lines   []timedLine `xml:"text"`
}

type timedLine struct {
	Start string `xml:"start,attr"`
	Dur   string `xml:"dur,attr"`
	Body  string `xml:",chardata"`
}

// DecodeTrackList parses a timedtext track-list document.
func DecodeTrackList(r io.Reader) ([]TrackRef, error) {
	var list trackList
	if err := xml.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode track list: %w", err)
	}
	return list.Tracks, nil
}

// DecodeTimedText parses a timedtext transcript document into plain text,
// one caption cue per line with entities unescaped.
func DecodeTimedText(r io.Reader) (string, error) {
	var doc timedText
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}

	lines := make([]string, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		text := strings.TrimSpace(html.UnescapeString(line.Body))
		if text == "" {
			continue
		}
		lines = append(lines, text)
	}
	return strings.Join(lines, "\n"), nil
}

// pickTrack selects the track matching the wanted language, falling back to
// the track the platform marked as default, then to the first track.
func pickTrack(tracks []TrackRef, language string) (TrackRef, bool) {
	if len(tracks) == 0 {
		return TrackRef{}, false
	}
	language = strings.ToLower(strings.TrimSpace(language))
	for _, track := range tracks {
		if strings.ToLower(track.LangCode) == language {
			return track, true
		}
	}
	for _, track := range tracks {
		if track.Default {
			return track, true
		}
	}
	return tracks[0], true
}
