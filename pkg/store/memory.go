package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store with the same conditional semantics as the
// DynamoDB implementation. Used by tests and the --dry-run mode.
type Memory struct {
	mu    sync.RWMutex
	items map[string]map[string]any
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		items: map[string]map[string]any{},
		now:   time.Now,
	}
}

func (m *Memory) Upsert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stale(rec) {
		return nil
	}

	item := make(map[string]any, len(rec.Attributes)+3)
	for k, v := range rec.Attributes {
		item[k] = v
	}
	item[rec.KeyAttribute] = rec.Key
	item[UpdatedAtAttribute] = m.now().UTC().Format(time.RFC3339)
	if rec.SequenceToken != "" {
		item[SeqAttribute] = PadSequenceToken(rec.SequenceToken)
	}
	m.items[rec.Key] = item
	return nil
}

func (m *Memory) Delete(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stale(rec) {
		return nil
	}
	delete(m.items, rec.Key)
	return nil
}

// Get returns a copy of the stored item, if any.
func (m *Memory) Get(key string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[key]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out, true
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// stale reports whether the stored item already reflects a sequence token
// at or past the incoming one. Caller holds the lock.
func (m *Memory) stale(rec *Record) bool {
	if rec.SequenceToken == "" {
		return false
	}
	item, ok := m.items[rec.Key]
	if !ok {
		return false
	}
	stored, ok := item[SeqAttribute].(string)
	return ok && stored >= PadSequenceToken(rec.SequenceToken)
}
