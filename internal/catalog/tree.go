package catalog

import (
	"sort"
	"sync"
)

// Tree holds which units are expanded and which single topic is selected.
// Ids are not checked against a Book here; callers validate first.
type Tree struct {
	mu       sync.RWMutex
	expanded map[string]bool
	selected string
}

func NewTree(expanded ...string) *Tree {
	t := &Tree{expanded: make(map[string]bool, len(expanded))}
	for _, id := range expanded {
		if id != "" {
			t.expanded[id] = true
		}
	}
	return t
}

// ToggleUnit flips a unit's membership in the expanded set and returns
// whether it is now expanded.
func (t *Tree) ToggleUnit(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.expanded[id] {
		delete(t.expanded, id)
		return false
	}
	t.expanded[id] = true
	return true
}

// SelectTopic replaces the selection. Selecting the current topic again
// keeps it selected.
func (t *Tree) SelectTopic(id string) {
	t.mu.Lock()
	t.selected = id
	t.mu.Unlock()
}

func (t *Tree) IsExpanded(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.expanded[id]
}

// Expanded returns the expanded unit ids in sorted order.
func (t *Tree) Expanded() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.expanded))
	for id := range t.expanded {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (t *Tree) Selected() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.selected, t.selected != ""
}
