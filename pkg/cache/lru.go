package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultCapacity bounds the number of entries when no capacity is given.
const DefaultCapacity = 10_000

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process LRU byte cache. It satisfies billing.Cache for
// single-instance deployments and tests. Values are copied on the way in
// and out so callers cannot mutate cached bytes.
type Memory struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	items    map[string]*list.Element
	order    *list.List
	onEvict  func(key string)
}

// Option configures Memory.
type Option func(*Memory)

// WithCapacity sets the maximum number of entries. Non-positive values are ignored.
func WithCapacity(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithTTL expires entries ttl after they were written.
func WithTTL(ttl time.Duration) Option {
	return func(m *Memory) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithEvictCallback is called with the key of every entry dropped for capacity.
func WithEvictCallback(fn func(key string)) Option {
	return func(m *Memory) { m.onEvict = fn }
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		capacity: DefaultCapacity,
		now:      time.Now,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get marks the entry as recently used. Expired entries are removed and
// reported as a miss.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	e := elem.Value.(*entry)
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.remove(elem)
		return nil, false, nil
	}
	m.order.MoveToFront(elem)
	return clone(e.value), true, nil
}

// Set inserts or replaces the value, evicting the least recently used entry
// when the cache is full.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if m.ttl > 0 {
		expiresAt = m.now().Add(m.ttl)
	}

	if elem, ok := m.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = clone(value)
		e.expiresAt = expiresAt
		m.order.MoveToFront(elem)
		return nil
	}

	m.items[key] = m.order.PushFront(&entry{key: key, value: clone(value), expiresAt: expiresAt})

	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.remove(oldest)
		if m.onEvict != nil {
			m.onEvict(oldest.Value.(*entry).key)
		}
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.remove(elem)
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet collected.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Clear drops every entry.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.order.Init()
}

func (m *Memory) remove(elem *list.Element) {
	m.order.Remove(elem)
	delete(m.items, elem.Value.(*entry).key)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
