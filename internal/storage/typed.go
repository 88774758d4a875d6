package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// TypedStore wraps Store with JSON marshaling for a specific type.
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore creates a new typed store wrapper for the given kind.
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{
		store: store,
		kind:  kind,
	}
}

// Get retrieves and unmarshals the state for an ID.
// ok is false if nothing is stored.
func (s *TypedStore[T]) Get(id string) (value T, ok bool, err error) {
	rec, err := s.store.Get(s.kind, id)
	if err != nil || rec == nil {
		return value, false, err
	}

	if err := json.Unmarshal(rec.Payload, &value); err != nil {
		return value, false, fmt.Errorf("failed to unmarshal %s/%s: %w", s.kind, id, err)
	}

	return value, true, nil
}

// Set marshals and stores the state for an ID.
func (s *TypedStore[T]) Set(id string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return s.store.Set(s.kind, id, payload)
}

// Replace swaps all entries of this kind for values.
func (s *TypedStore[T]) Replace(values map[string]T) error {
	payloads := make(map[string][]byte, len(values))
	for id, value := range values {
		payload, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal state for %s: %w", id, err)
		}
		payloads[id] = payload
	}

	return s.store.Replace(s.kind, payloads)
}

// Delete removes the state for an ID.
func (s *TypedStore[T]) Delete(id string) error {
	return s.store.Delete(s.kind, id)
}

// Clear removes all state for this kind.
func (s *TypedStore[T]) Clear() error {
	return s.store.Clear(s.kind)
}

// GetAll retrieves all entries for this kind and the most recent update time.
func (s *TypedStore[T]) GetAll() (map[string]T, time.Time, error) {
	records, err := s.store.GetAll(s.kind)
	if err != nil {
		return nil, time.Time{}, err
	}

	var latest time.Time
	values := make(map[string]T, len(records))
	for id, rec := range records {
		var value T
		if err := json.Unmarshal(rec.Payload, &value); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to unmarshal state for %s: %w", id, err)
		}
		values[id] = value
		if rec.UpdatedAt.After(latest) {
			latest = rec.UpdatedAt
		}
	}

	return values, latest, nil
}
