// Package memory keeps short conversational context per owner so
// follow-up queries like "compare them" can be resolved to the patients
// a previous answer referenced.
package memory

import (
	"sync"
	"time"
)

// Entry records one answered query and the patients it referenced.
type Entry struct {
	OwnerID       string    `json:"ownerId"`
	Query         string    `json:"query"`
	ReferencedIDs []string  `json:"referencedIds"`
	ResultSummary string    `json:"resultSummary"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Stats is a point-in-time snapshot used by the introspection endpoint.
type Stats struct {
	Owners     int           `json:"owners"`
	Entries    int           `json:"entries"`
	MaxEntries int           `json:"maxEntriesPerOwner"`
	TTL        time.Duration `json:"ttl"`
}

// Memory is a bounded per-owner history. Each owner keeps at most
// maxEntries entries and entries expire ttl after creation. Expiry is
// checked at read time, there is no background sweeper.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string][]Entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// New returns a Memory with the given per-owner bound and entry TTL.
func New(maxEntries int, ttl time.Duration) *Memory {
	return NewWithClock(maxEntries, ttl, time.Now)
}

// NewWithClock is New with an injected clock for tests.
func NewWithClock(maxEntries int, ttl time.Duration, now func() time.Time) *Memory {
	return &Memory{
		entries:    make(map[string][]Entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        now,
	}
}

// Record appends an entry for e.OwnerID, evicting the oldest entry when
// the per-owner bound is exceeded. Entries without an owner are dropped.
func (m *Memory) Record(e Entry) {
	if e.OwnerID == "" {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.entries[e.OwnerID], e)
	if len(list) > m.maxEntries {
		list = list[len(list)-m.maxEntries:]
	}
	m.entries[e.OwnerID] = list
}

// Resolve returns the most recent unexpired entry for ownerID that
// referenced at least one patient. The boolean is false when nothing
// usable remains, which callers must treat as an unresolvable reference.
func (m *Memory) Resolve(ownerID string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.entries[ownerID]
	cutoff := m.now().Add(-m.ttl)
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].CreatedAt.Before(cutoff) {
			break
		}
		if len(list[i].ReferencedIDs) > 0 {
			return list[i], true
		}
	}
	return Entry{}, false
}

// History returns the unexpired entries for ownerID, oldest first.
func (m *Memory) History(ownerID string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-m.ttl)
	var out []Entry
	for _, e := range m.entries[ownerID] {
		if !e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops all entries for ownerID.
func (m *Memory) Clear(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ownerID)
}

// Stats reports the number of owners and unexpired entries.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-m.ttl)
	s := Stats{MaxEntries: m.maxEntries, TTL: m.ttl}
	for _, list := range m.entries {
		n := 0
		for _, e := range list {
			if !e.CreatedAt.Before(cutoff) {
				n++
			}
		}
		if n > 0 {
			s.Owners++
			s.Entries += n
		}
	}
	return s
}
