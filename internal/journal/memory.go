package journal

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/glyphcast/pkg/types"
)

// Memory is an in-process [Store]. It keeps at most capacity events and
// drops the oldest beyond that; Stats only covers what is kept.
type Memory struct {
	capacity int

	mu     sync.RWMutex
	events []types.CastEvent
	ids    map[string]struct{}
	closed bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store. capacity <= 0 means unbounded.
func NewMemory(capacity int) *Memory {
	return &Memory{capacity: capacity, ids: make(map[string]struct{})}
}

func (m *Memory) Append(_ context.Context, e types.CastEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, dup := m.ids[e.ID]; dup {
		return nil
	}
	e.Letters = slices.Clone(e.Letters)
	if e.Reaction != nil {
		r := *e.Reaction
		e.Reaction = &r
	}
	m.events = append(m.events, e)
	m.ids[e.ID] = struct{}{}
	if m.capacity > 0 && len(m.events) > m.capacity {
		drop := len(m.events) - m.capacity
		for _, old := range m.events[:drop] {
			delete(m.ids, old.ID)
		}
		m.events = slices.Delete(m.events, 0, drop)
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, actor string, limit int) ([]types.CastEvent, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]types.CastEvent, 0, min(limit, len(m.events)))
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if actor == "" || m.events[i].Actor == actor {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *Memory) Stats(_ context.Context, actor string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Stats{}, ErrClosed
	}
	var st Stats
	var sum float64
	for _, e := range m.events {
		if actor != "" && e.Actor != actor {
			continue
		}
		st.Casts++
		sum += e.Accuracy
		st.BestChain = max(st.BestChain, e.Chain)
		st.TotalDamage += e.Damage
		if e.Reaction != nil {
			st.Reactions++
		}
	}
	if st.Casts > 0 {
		st.AverageAccuracy = sum / float64(st.Casts)
	}
	return st, nil
}

// Close marks the store closed. Safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
