package manifest

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a work item.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusExtracting Status = "extracting"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusQueued,
	StatusExtracting,
	StatusSucceeded,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status absorbs all further processing.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Attempt is one entry in an item's append-only attempt history.
type Attempt struct {
	Strategy  string    `json:"strategy"`
	RequestID string    `json:"request_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Outcome   string    `json:"outcome"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Item represents a work item persisted in SQLite. It is mutated only by
// the worker that currently owns it; the scheduler hands ownership to
// exactly one worker at a time.
type Item struct {
	ID            string
	SourceURL     string
	Status        Status
	StrategyIndex int
	Attempts      []Attempt
	Transcript    string
	StrategyUsed  string
	ErrorKind     string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExtractedAt   *time.Time
	LastHeartbeat *time.Time
}

// RecordAttempt appends one history entry. History is append-only; nothing
// ever truncates it.
func (i *Item) RecordAttempt(a Attempt) {
	i.Attempts = append(i.Attempts, a)
}

// AdvanceStrategy moves the chain cursor forward. The cursor never moves
// backwards and is clamped by callers against the chain length.
func (i *Item) AdvanceStrategy() {
	i.StrategyIndex++
}

// SetExtracting marks the item as owned by a worker.
func (i *Item) SetExtracting(now time.Time) {
	i.Status = StatusExtracting
	i.ErrorKind = ""
	i.ErrorMessage = ""
	hb := now.UTC()
	i.LastHeartbeat = &hb
}

// SetRequeued returns an in-flight item to the queue, keeping its strategy
// cursor so a later run resumes the chain where it stopped.
func (i *Item) SetRequeued() {
	i.Status = StatusQueued
	i.LastHeartbeat = nil
}

// SetSucceeded records the terminal success state. An item transitions to
// succeeded at most once.
func (i *Item) SetSucceeded(transcript, strategy string, now time.Time) {
	i.Status = StatusSucceeded
	i.Transcript = transcript
	i.StrategyUsed = strategy
	i.ErrorKind = ""
	i.ErrorMessage = ""
	at := now.UTC()
	i.ExtractedAt = &at
	i.LastHeartbeat = nil
}

// SetFailed records the terminal failure state with the classified kind and
// the message from the last attempted strategy.
func (i *Item) SetFailed(kind, message string) {
	i.Status = StatusFailed
	i.ErrorKind = kind
	i.ErrorMessage = message
	i.LastHeartbeat = nil
}

// HealthSummary describes aggregated counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Queued     int
	Extracting int
	Succeeded  int
	Failed     int
}

func encodeAttempts(attempts []Attempt) (string, error) {
	if len(attempts) == 0 {
		return "", nil
	}
	data, err := json.Marshal(attempts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeAttempts(data string) []Attempt {
	if strings.TrimSpace(data) == "" {
		return nil
	}
	var attempts []Attempt
	if err := json.Unmarshal([]byte(data), &attempts); err != nil {
		return nil
	}
	return attempts
}
