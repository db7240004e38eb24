// Package registry holds completed utterances for the lifetime of the process.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voicebridge/call-gateway/internal/models"
)

// ErrAlreadyRecorded is returned when an utterance ID is inserted twice.
var ErrAlreadyRecorded = errors.New("utterance already recorded")

// ErrEmptyID is returned for records without an ID.
var ErrEmptyID = errors.New("utterance id is empty")

// Registry is an append-only store of utterance records keyed by ID.
// Records are never evicted. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	records map[string]models.UtteranceRecord
	order   []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{records: make(map[string]models.UtteranceRecord)}
}

// Put inserts rec. Inserting an existing ID leaves the stored record untouched
// and returns ErrAlreadyRecorded.
func (r *Registry) Put(rec models.UtteranceRecord) error {
	if rec.ID == "" {
		return ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRecorded, rec.ID)
	}
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	return nil
}

// Get returns the record for id.
func (r *Registry) Get(id string) (models.UtteranceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// List returns all records in insertion order.
func (r *Registry) List() []models.UtteranceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.UtteranceRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id])
	}
	return out
}

// ListByCall returns the records of one call in insertion order.
func (r *Registry) ListByCall(callId string) []models.UtteranceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.UtteranceRecord
	for _, id := range r.order {
		if rec := r.records[id]; rec.CallID == callId {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
