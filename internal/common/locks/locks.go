// Package locks provides per-id mutual exclusion.
package locks

import (
	"sort"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Table hands out one mutex per id. Entries are dropped once no goroutine
// holds or waits for them.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Lock acquires every id in ascending order, skipping duplicates, and returns
// a func that releases them in reverse order.
func (t *Table) Lock(ids ...string) (unlock func()) {
	ordered := normalize(ids)
	held := make([]*entry, 0, len(ordered))
	for _, id := range ordered {
		e := t.acquire(id)
		e.mu.Lock()
		held = append(held, e)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				t.release(ordered[i])
			}
		})
	}
}

func (t *Table) acquire(id string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		e = &entry{}
		t.entries[id] = e
	}
	e.refs++
	return e
}

func (t *Table) release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[id]
	e.refs--
	if e.refs == 0 {
		delete(t.entries, id)
	}
}

// Size reports how many ids currently have holders or waiters.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
