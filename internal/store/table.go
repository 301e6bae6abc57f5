package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Table is a thread-safe, insertion-ordered, in-memory table of T keyed by string ID.
type Table[T any] struct {
	mu      sync.RWMutex
	items   map[string]T
	order   []string // insertion order for deterministic listing
	prefix  string
	counter atomic.Uint64
}

// NewTable creates an empty table whose generated IDs start with prefix.
func NewTable[T any](prefix string) *Table[T] {
	return &Table[T]{
		items:  make(map[string]T),
		order:  make([]string, 0),
		prefix: prefix,
	}
}

// NextID generates an ID of the form "{prefix}_{counter}", e.g. "prd_000001".
func (t *Table[T]) NextID() string {
	n := t.counter.Add(1)
	return fmt.Sprintf("%s_%06d", t.prefix, n)
}

// Set stores an item. Overwriting keeps the item's original position.
func (t *Table[T]) Set(id string, item T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.items[id]; !exists {
		t.order = append(t.order, id)
	}
	t.items[id] = item
}

// Get retrieves an item by ID.
func (t *Table[T]) Get(id string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item, ok := t.items[id]
	return item, ok
}

// Update applies fn to the item stored under id while holding the write
// lock. If fn returns an error the item is left unchanged.
func (t *Table[T]) Update(id string, fn func(item T, exists bool) (T, error)) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, exists := t.items[id]
	next, err := fn(cur, exists)
	if err != nil {
		return cur, err
	}
	if !exists {
		t.order = append(t.order, id)
	}
	t.items[id] = next
	return next, nil
}

// Delete removes an item by ID. Returns true if the item existed.
func (t *Table[T]) Delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.items[id]; !exists {
		return false
	}
	delete(t.items, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns all items in insertion order.
func (t *Table[T]) List() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]T, 0, len(t.order))
	for _, id := range t.order {
		result = append(result, t.items[id])
	}
	return result
}

// Count returns the number of items in the table.
func (t *Table[T]) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Filter returns items that match the predicate, in insertion order.
func (t *Table[T]) Filter(predicate func(id string, item T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]T, 0)
	for _, id := range t.order {
		if predicate(id, t.items[id]) {
			result = append(result, t.items[id])
		}
	}
	return result
}

// Query is a filter/order/limit request against a table.
// A nil Where matches everything; a nil Less keeps insertion order.
// Limit <= 0 means no limit.
type Query[T any] struct {
	Where  func(T) bool
	Less   func(a, b T) bool
	Offset int
	Limit  int
}

// Select runs q and returns the matching page.
func (t *Table[T]) Select(q Query[T]) []T {
	rows := t.Filter(func(_ string, item T) bool {
		return q.Where == nil || q.Where(item)
	})
	if q.Less != nil {
		sort.SliceStable(rows, func(i, j int) bool { return q.Less(rows[i], rows[j]) })
	}
	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			return []T{}
		}
		rows = rows[q.Offset:]
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows
}

// Reset clears all items and resets the ID counter.
func (t *Table[T]) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make(map[string]T)
	t.order = make([]string, 0)
	t.counter.Store(0)
}

// Snapshot returns all items as a JSON-serializable map.
func (t *Table[T]) Snapshot() map[string]T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snapshot := make(map[string]T, len(t.items))
	for k, v := range t.items {
		snapshot[k] = v
	}
	return snapshot
}

// LoadSnapshot replaces all items. IDs are sorted to keep listing
// deterministic, and the ID counter moves past the highest generated ID
// loaded so NextID never hands out a key that is already taken.
func (t *Table[T]) LoadSnapshot(snapshot map[string]T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make(map[string]T, len(snapshot))
	t.order = make([]string, 0, len(snapshot))
	var highest uint64
	for k, v := range snapshot {
		t.items[k] = v
		t.order = append(t.order, k)
		if n, ok := t.sequence(k); ok && n > highest {
			highest = n
		}
	}
	sort.Strings(t.order)
	t.counter.Store(highest)
}

// sequence extracts n from an ID of the form "{prefix}_{n}".
func (t *Table[T]) sequence(id string) (uint64, bool) {
	digits, ok := strings.CutPrefix(id, t.prefix+"_")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MarshalJSON serializes the table as its items map.
func (t *Table[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

// UnmarshalJSON replaces the table's items from JSON.
func (t *Table[T]) UnmarshalJSON(data []byte) error {
	var snapshot map[string]T
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	t.LoadSnapshot(snapshot)
	return nil
}

// Clock supplies timestamps to the store. Tests can pin it.
type Clock struct {
	mu    sync.RWMutex
	fixed time.Time
}

// NewClock returns a clock that follows wall time.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns the pinned time, or wall time in UTC when nothing is pinned.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.fixed.IsZero() {
		return c.fixed
	}
	return time.Now().UTC()
}

// Pin freezes the clock at t. A zero t releases it.
func (c *Clock) Pin(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixed = t
}
