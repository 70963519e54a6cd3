package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/hublink/internal/hub/wire"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HistoryEntry is one row of state_history.
type HistoryEntry struct {
	ID          int64          `json:"id"`
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	RecordedAt  time.Time      `json:"recorded_at"`
}

// HistoryStore reads and writes the state_history table.
//
// It is safe for concurrent use; database/sql serialises access.
type HistoryStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewHistoryStore creates a store over an open, migrated database.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db, now: time.Now}
}

// Record appends s to the entity's history.
func (h *HistoryStore) Record(ctx context.Context, s wire.State) error {
	if s.EntityID == "" {
		return ErrEntityID
	}

	attrs := s.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}

	lastChanged := s.LastChanged
	if lastChanged.IsZero() {
		lastChanged = h.now()
	}

	_, err = h.db.ExecContext(ctx,
		`INSERT INTO state_history (entity_id, state, attributes, last_changed, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.EntityID,
		s.State,
		string(attrsJSON),
		formatTime(lastChanged),
		formatTime(h.now()),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// History returns entries for entityID newest first. A zero since returns
// the latest entries regardless of age. limit defaults to 50 and is capped
// at 500.
func (h *HistoryStore) History(ctx context.Context, entityID string, since time.Time, limit int) ([]HistoryEntry, error) {
	if entityID == "" {
		return nil, ErrEntityID
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, entity_id, state, attributes, last_changed, recorded_at
		 FROM state_history
		 WHERE entity_id = ? AND last_changed >= ?
		 ORDER BY last_changed DESC, id DESC
		 LIMIT ?`,
		entityID,
		formatTime(since),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var e HistoryEntry
		var attrsJSON, lastChanged, recordedAt string
		if err := rows.Scan(&e.ID, &e.EntityID, &e.State, &attrsJSON, &lastChanged, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(attrsJSON), &e.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshalling attributes: %w", err)
		}
		if e.LastChanged, err = parseTime(lastChanged); err != nil {
			return nil, err
		}
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded more than olderThan ago.
func (h *HistoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("mirror: prune age must be positive")
	}

	result, err := h.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE recorded_at < ?",
		formatTime(h.now().Add(-olderThan)),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Timestamps are stored as fixed-width UTC text so they sort as strings.
const historyTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(historyTimeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(historyTimeLayout, v)
	if err == nil {
		return t, nil
	}
	if t, rfcErr := time.Parse(time.RFC3339, v); rfcErr == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("parsing history timestamp %q: %w", v, err)
}
