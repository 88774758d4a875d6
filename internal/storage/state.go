package storage

import (
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store provides generic versioned state storage with JSON payloads.
// State is keyed by (kind, id) and stored as JSON blobs with version tracking.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Record is one stored payload with its bookkeeping columns.
type Record struct {
	Payload   []byte
	Version   int64
	UpdatedAt time.Time
}

// NewStore creates a new generic state store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves the record for a resource.
// Returns a nil record if not found.
func (s *Store) Get(kind, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payloadStr string
	var version, updatedAt int64
	err := s.db.QueryRow(`
		SELECT payload, version, updated_at FROM resource_state
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payloadStr, &version, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &Record{
		Payload:   []byte(payloadStr),
		Version:   version,
		UpdatedAt: time.Unix(updatedAt, 0).UTC(),
	}, nil
}

// Set stores payload, incrementing version automatically.
// Creates new entry if not exists, updates if exists.
func (s *Store) Set(kind, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(upsertSQL, kind, id, string(payload), time.Now().UTC().Unix())
	if err == nil {
		log.Debug().
			Str("kind", kind).
			Str("id", id).
			Msg("Store.Set completed")
	}

	return err
}

const upsertSQL = `
	INSERT INTO resource_state (kind, id, payload, version, updated_at)
	VALUES (?, ?, ?, 1, ?)
	ON CONFLICT(kind, id) DO UPDATE SET
		payload = excluded.payload,
		version = version + 1,
		updated_at = excluded.updated_at
`

// Replace atomically swaps every entry of kind for payloads.
func (s *Store) Replace(kind string, payloads map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM resource_state WHERE kind = ?`, kind); err != nil {
		return err
	}

	now := time.Now().UTC().Unix()
	for id, payload := range payloads {
		if _, err := tx.Exec(upsertSQL, kind, id, string(payload), now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Debug().
		Str("kind", kind).
		Int("entries", len(payloads)).
		Msg("Store.Replace completed")

	return nil
}

// Delete removes a resource state entry.
func (s *Store) Delete(kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		DELETE FROM resource_state WHERE kind = ? AND id = ?
	`, kind, id)

	return err
}

// Clear removes all state for a kind. If kind is empty, clears all state.
func (s *Store) Clear(kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if kind == "" {
		_, err = s.db.Exec(`DELETE FROM resource_state`)
	} else {
		_, err = s.db.Exec(`DELETE FROM resource_state WHERE kind = ?`, kind)
	}

	return err
}

// GetAll returns all records for a kind keyed by id.
func (s *Store) GetAll(kind string) (map[string]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, payload, version, updated_at FROM resource_state WHERE kind = ?
	`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make(map[string]Record)
	for rows.Next() {
		var id, payloadStr string
		var version, updatedAt int64

		if err := rows.Scan(&id, &payloadStr, &version, &updatedAt); err != nil {
			return nil, err
		}

		records[id] = Record{
			Payload:   []byte(payloadStr),
			Version:   version,
			UpdatedAt: time.Unix(updatedAt, 0).UTC(),
		}
	}

	return records, rows.Err()
}
