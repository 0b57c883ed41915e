package buffer

import "sync"

// Snapshot is an immutable copy of the three buffer texts.
type Snapshot struct {
	Markup   string
	Style    string
	Script   string
	Revision uint64
}

// Text returns the text of one buffer in the snapshot.
func (s Snapshot) Text(id ID) string {
	switch id {
	case Style:
		return s.Style
	case Script:
		return s.Script
	default:
		return s.Markup
	}
}

// Change describes one mutation of the store.
type Change struct {
	// Buffer is the buffer written by Set. It is meaningless when Reset is true.
	Buffer   ID
	Reset    bool
	Snapshot Snapshot
}

// Observer is notified after every mutation of the store.
type Observer func(Change)

// Store owns the text of the markup, style and script buffers. Buffers are
// never absent: an unset buffer is the empty string. Set never fails and
// performs no validation, malformed source is a rendering concern.
type Store struct {
	mu        sync.RWMutex
	text      [3]string
	clean     [3]string
	revision  uint64
	observers []Observer
}

// NewStore returns a store with three empty, clean buffers.
func NewStore() *Store {
	return &Store{}
}

// Subscribe registers an observer. Observers are registered once at startup
// and are called synchronously, outside the store lock.
func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Get returns the text of buffer id.
func (s *Store) Get(id ID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text[index(id)]
}

// Set overwrites buffer id with text.
func (s *Store) Set(id ID, text string) {
	s.mu.Lock()
	s.text[index(id)] = text
	s.revision++
	change := Change{Buffer: id, Snapshot: s.snapshotLocked()}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
}

// Reset empties all three buffers and marks them clean.
func (s *Store) Reset() {
	s.mu.Lock()
	s.text = [3]string{}
	s.clean = [3]string{}
	s.revision++
	change := Change{Reset: true, Snapshot: s.snapshotLocked()}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
}

// MarkClean records the current text of id as its saved baseline.
func (s *Store) MarkClean(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := index(id)
	s.clean[i] = s.text[i]
}

// Baseline returns the saved baseline of id.
func (s *Store) Baseline(id ID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clean[index(id)]
}

// Restore overwrites both the text and the saved baseline of id.
func (s *Store) Restore(id ID, text, baseline string) {
	s.mu.Lock()
	i := index(id)
	s.text[i] = text
	s.clean[i] = baseline
	s.revision++
	change := Change{Buffer: id, Snapshot: s.snapshotLocked()}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
}

// Dirty reports whether id differs from its saved baseline.
func (s *Store) Dirty(id ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := index(id)
	return s.text[i] != s.clean[i]
}

// AnyDirty reports whether any buffer has unsaved changes.
func (s *Store) AnyDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.text {
		if s.text[i] != s.clean[i] {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of all three buffers.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Markup:   s.text[Markup],
		Style:    s.text[Style],
		Script:   s.text[Script],
		Revision: s.revision,
	}
}

func notify(observers []Observer, change Change) {
	for _, o := range observers {
		o(change)
	}
}

func index(id ID) int {
	if !id.Valid() {
		panic("buffer: invalid id " + id.String())
	}
	return int(id)
}
