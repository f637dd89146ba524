package fetch

import "sync"

// VisitedSet is the set of locators claimed during one run. It only grows.
type VisitedSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewVisitedSet returns an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{seen: make(map[string]struct{})}
}

// Add inserts locator and reports whether it was new. The check and the
// insert happen under one lock, so of several concurrent callers with the
// same locator exactly one gets true.
func (v *VisitedSet) Add(locator string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.seen[locator]; ok {
		return false
	}
	v.seen[locator] = struct{}{}
	return true
}
