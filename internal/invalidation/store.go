package invalidation

import (
	"sort"
	"time"

	"github.com/liga-sync/internal/domain"
)

// Entry is the cached state of one derived view
type Entry struct {
	Key       domain.Key
	Data      any
	Err       error
	Stale     bool
	Loaded    bool
	Gen       uint64
	UpdatedAt time.Time
}

// Store holds stale flags and last known data per cache key.
// It is owned by a single goroutine and does no locking.
type Store struct {
	entries map[string]*Entry
	seq     uint64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Ensure returns the entry for key, creating an empty one if needed
func (s *Store) Ensure(key domain.Key) *Entry {
	id := key.String()
	e, ok := s.entries[id]
	if !ok {
		e = &Entry{Key: key}
		s.entries[id] = e
	}
	return e
}

// Get returns the entry for key if one exists
func (s *Store) Get(key domain.Key) (*Entry, bool) {
	e, ok := s.entries[key.String()]
	return e, ok
}

// Invalidate marks every entry equal to or under any target as stale and returns them.
// Marking is synchronous and independent of whether anything consumes the entry.
func (s *Store) Invalidate(targets ...domain.Key) []*Entry {
	if len(targets) == 0 {
		return nil
	}
	s.seq++

	var hit []*Entry
	for _, e := range s.entries {
		for _, target := range targets {
			if e.Key.HasPrefix(target) {
				e.Stale = true
				e.Gen = s.seq
				hit = append(hit, e)
				break
			}
		}
	}
	sort.Slice(hit, func(i, j int) bool { return hit[i].Key.String() < hit[j].Key.String() })
	return hit
}

// Resolve records the outcome of a fetch that started when the entry was at gen.
// A successful fetch clears the stale flag only if no invalidation landed meanwhile.
// A failed fetch keeps the last known data.
func (s *Store) Resolve(key domain.Key, gen uint64, data any, err error, at time.Time) *Entry {
	e := s.Ensure(key)
	if err != nil {
		e.Err = err
		return e
	}
	e.Data = data
	e.Err = nil
	e.Loaded = true
	e.UpdatedAt = at
	if e.Gen == gen {
		e.Stale = false
	}
	return e
}

// Drop forgets the entry for key
func (s *Store) Drop(key domain.Key) {
	delete(s.entries, key.String())
}

// Len returns the number of tracked entries
func (s *Store) Len() int {
	return len(s.entries)
}

// Seq returns the number of Invalidate calls made with at least one target
func (s *Store) Seq() uint64 {
	return s.seq
}
