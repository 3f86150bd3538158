package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"scribe/internal/config"
)

// Spec is the caller-supplied seed for one work item.
type Spec struct {
	ID        string
	SourceURL string
}

// Store manages session persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the session database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenAt(filepath.Join(cfg.Paths.SessionDir, "session.db"))
}

// OpenAt connects to the session database at an explicit path.
func OpenAt(dbPath string) (*Store, error) {
	// DSN pragmas are applied by the driver on every pooled connection;
	// Exec-applied pragmas only reach the one connection that runs them.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the session database location.
func (s *Store) Path() string {
	return s.path
}

// Seed inserts the supplied specs as queued items. Items whose id already
// exists are left untouched so a resumed batch keeps its prior state.
func (s *Store) Seed(ctx context.Context, specs []Spec) error {
	if len(specs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	for _, spec := range specs {
		if spec.ID == "" {
			return errors.New("work item id must not be empty")
		}
		if spec.SourceURL == "" {
			return fmt.Errorf("work item %q: source url must not be empty", spec.ID)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO work_items (
                id, source_url, status, strategy_index, created_at, updated_at
            ) VALUES (?, ?, ?, 0, ?, ?)`,
			spec.ID,
			spec.SourceURL,
			StatusQueued,
			timestamp,
			timestamp,
		); err != nil {
			return fmt.Errorf("seed item %q: %w", spec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

// GetByID fetches a work item by identifier, or nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// Update persists changes to an existing work item. Writes for different
// ids never contend beyond SQLite's own page locking, and a single UPDATE
// under WAL is atomic, so a crash mid-write never leaves a torn record.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	attempts, err := encodeAttempts(item.Attempts)
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}
	item.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE work_items
         SET source_url = ?, status = ?, strategy_index = ?, attempts_json = ?,
             transcript = ?, strategy_used = ?, error_kind = ?, error_message = ?,
             updated_at = ?, extracted_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		item.SourceURL,
		item.Status,
		item.StrategyIndex,
		nullableString(attempts),
		nullableString(item.Transcript),
		nullableString(item.StrategyUsed),
		nullableString(item.ErrorKind),
		nullableString(item.ErrorMessage),
		item.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(item.ExtractedAt),
		nullableTime(item.LastHeartbeat),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// Load returns every work item ordered by creation time. Calling Load twice
// with no writes in between yields identical results.
func (s *Store) Load(ctx context.Context) ([]*Item, error) {
	return s.List(ctx)
}

// List returns work items filtered by status set (or all items when no
// status is provided), ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM work_items`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ResetInterrupted returns extracting items to queued at their current
// strategy index. The worker that owned them did not survive the previous
// process, so they are resumable but must be re-dispatched.
func (s *Store) ResetInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE work_items
         SET status = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status = ?`,
		StatusQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusExtracting,
	)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted items: %w", err)
	}
	return res.RowsAffected()
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight item.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE work_items SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale returns extracting items whose heartbeat expired back to
// queued so another worker can pick them up.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE work_items
         SET status = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusExtracting,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed items back to queued for reprocessing. With no
// ids every failed item is retried. The strategy cursor and attempt history
// are preserved; retry resumes where the chain left off.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE work_items
             SET status = ?, strategy_index = 0, error_kind = NULL, error_message = NULL, updated_at = ?
             WHERE status = ?`,
			StatusQueued, timestamp, StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed items: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusQueued, timestamp)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE work_items
         SET status = ?, strategy_index = 0, error_kind = NULL, error_message = NULL, updated_at = ?
         WHERE id IN (`+placeholders+`) AND status = '`+string(StatusFailed)+`'`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected items: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates session state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusExtracting:
			health.Extracting += count
		case StatusSucceeded:
			health.Succeeded += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// ClearSucceeded removes only succeeded items from the session.
func (s *Store) ClearSucceeded(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM work_items WHERE status = ?`, StatusSucceeded)
	if err != nil {
		return 0, fmt.Errorf("clear succeeded: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed items from the session.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM work_items WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all items from the session.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM work_items`)
	if err != nil {
		return 0, fmt.Errorf("clear session: %w", err)
	}
	return res.RowsAffected()
}

const itemColumns = "id, source_url, status, strategy_index, attempts_json, transcript, strategy_used, error_kind, error_message, created_at, updated_at, extracted_at, last_heartbeat"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id            string
		sourceURL     string
		statusStr     string
		strategyIndex int
		attemptsJSON  sql.NullString
		transcript    sql.NullString
		strategyUsed  sql.NullString
		errorKind     sql.NullString
		errorMessage  sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		extractedRaw  sql.NullString
		heartbeatRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourceURL,
		&statusStr,
		&strategyIndex,
		&attemptsJSON,
		&transcript,
		&strategyUsed,
		&errorKind,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&extractedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:            id,
		SourceURL:     sourceURL,
		Status:        Status(statusStr),
		StrategyIndex: strategyIndex,
		Attempts:      decodeAttempts(attemptsJSON.String),
		Transcript:    transcript.String,
		StrategyUsed:  strategyUsed.String,
		ErrorKind:     errorKind.String,
		ErrorMessage:  errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	if extractedRaw.Valid {
		if extracted, err := parseTimeString(extractedRaw.String); err == nil {
			item.ExtractedAt = &extracted
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			item.LastHeartbeat = &heartbeat
		}
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
