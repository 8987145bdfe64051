package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

// Entry is the latest known state of one order.
type Entry struct {
	Record    order.Record `json:"record"`
	FirstSeen time.Time    `json:"firstSeen"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type ViewStore interface {
	// Apply records rec if it supersedes the stored entry and reports
	// whether it did.
	Apply(ctx context.Context, rec order.Record, at time.Time) (Entry, bool, error)
	Get(ctx context.Context, orderID string) (Entry, bool, error)
	List(ctx context.Context) ([]Entry, error)
}

// supersedes reports whether next may replace cur: a later stage always
// does, the same stage does unless cur is already terminal.
func supersedes(cur, next order.Status) bool {
	switch {
	case next.Stage() > cur.Stage():
		return true
	case next.Stage() == cur.Stage():
		return !cur.Terminal()
	default:
		return false
	}
}

func merge(cur Entry, found bool, rec order.Record, at time.Time) (Entry, bool) {
	if !found {
		return Entry{Record: rec, FirstSeen: at, UpdatedAt: at}, true
	}
	if !supersedes(cur.Record.Status, rec.Status) {
		return cur, false
	}
	cur.Record = rec
	cur.UpdatedAt = at
	return cur, true
}

// Stuck returns orders still NEW that were first seen more than age before now.
func Stuck(entries []Entry, age time.Duration, now time.Time) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Record.Status == order.StatusNew && now.Sub(e.FirstSeen) > age {
			out = append(out, e)
		}
	}
	return out
}

type MemoryViewStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryViewStore() *MemoryViewStore {
	return &MemoryViewStore{entries: make(map[string]Entry)}
}

func (s *MemoryViewStore) Apply(ctx context.Context, rec order.Record, at time.Time) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, found := s.entries[rec.OrderID]
	next, applied := merge(cur, found, rec, at)
	if applied {
		s.entries[rec.OrderID] = next
	}
	return next, applied, nil
}

func (s *MemoryViewStore) Get(ctx context.Context, orderID string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[orderID]
	return e, ok, nil
}

func (s *MemoryViewStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].FirstSeen.Equal(entries[j].FirstSeen) {
			return entries[i].FirstSeen.Before(entries[j].FirstSeen)
		}
		return entries[i].Record.OrderID < entries[j].Record.OrderID
	})
}
