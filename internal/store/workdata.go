/**
 * WorkDataStore - single mutable slot for in-flight pipeline state.
 *
 * WorkData's image sequence is mutated element-by-element as stage results
 * stream in, so every access is fully serialized behind one mutex: a reader
 * must never observe a half-updated element list. Reads hand out snapshots;
 * mutation goes through Update so the lock covers the whole change.
 */

package store

import (
	"sync"

	"github.com/mangaforge/workbench/internal/model"
)

// WorkDataStore owns the live WorkData of the current pipeline session.
// At most one WorkData is live at a time; concurrent sessions are not
// supported by design.
type WorkDataStore struct {
	mu   sync.Mutex
	data *model.WorkData
}

func NewWorkDataStore() *WorkDataStore {
	return &WorkDataStore{}
}

// Get returns a snapshot of the live WorkData, or false when the slot is
// empty. Callers may inspect the snapshot freely; writing it back requires
// Set or Update.
func (s *WorkDataStore) Get() (*model.WorkData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, false
	}
	return s.data.Clone(), true
}

// Set installs wd as the live WorkData, replacing any previous value.
func (s *WorkDataStore) Set(wd *model.WorkData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = wd
}

// Clear empties the slot.
func (s *WorkDataStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
}

// Exists reports whether a WorkData is live.
func (s *WorkDataStore) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data != nil
}

// ErrNoWorkData is returned by Update when the slot is empty.
type ErrNoWorkData struct{}

func (ErrNoWorkData) Error() string { return "no work data staged" }

// Update runs fn against the live WorkData under the slot mutex. If fn
// returns an error the error is passed through; fn must not retain the
// pointer past its return.
func (s *WorkDataStore) Update(fn func(wd *model.WorkData) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ErrNoWorkData{}
	}
	return fn(s.data)
}
