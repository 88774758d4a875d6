// Package ledger provides an append-only history of bridge operations:
// pairings and every transaction sent to a light, with its outcome.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventPaired    EventType = "paired"
	EventTxApplied EventType = "tx_applied"
	EventTxFailed  EventType = "tx_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	EventType EventType
	Timestamp time.Time
	LightID   string
	Payload   map[string]any
	Source    string
	Error     string
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger. payload may be any JSON-marshalable
// value (a Transaction marshals to its request body). A non-nil cause is
// stored as the entry's error text.
func (l *Ledger) Append(eventType EventType, lightID, source string, payload any, cause error) error {
	var payloadJSON sql.NullString
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		payloadJSON = sql.NullString{String: string(data), Valid: true}
	}

	var errText sql.NullString
	if cause != nil {
		errText = sql.NullString{String: cause.Error(), Valid: true}
	}

	_, err := l.db.Exec(`
		INSERT INTO event_ledger (event_type, timestamp, light_id, payload, source, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(eventType), l.now().UTC().UnixMilli(), lightID, payloadJSON, source, errText)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}

	return nil
}

// Recent returns the newest entries first.
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, light_id, payload, source, error
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ForLight returns the newest entries for one light first.
func (l *Ledger) ForLight(lightID string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, light_id, payload, source, error
		FROM event_ledger
		WHERE light_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, lightID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, lightID, source, errText sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &lightID, &payloadStr, &source, &errText,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		entry.LightID = lightID.String
		entry.Source = source.String
		entry.Error = errText.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
