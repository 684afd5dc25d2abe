package pipeline

import "sync"

// View holds the most recent committed Result for one screen. Runs take a
// sequence number from Begin before fetching; Commit only accepts a result
// whose sequence is newer than the one already held, so a slow run that
// finishes after a later one is discarded.
type View struct {
	mu        sync.Mutex
	next      uint64
	committed uint64
	current   *Result
}

// Begin hands out the next sequence number.
func (v *View) Begin() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.next++
	return v.next
}

// Commit stores res under seq and reports whether it was accepted.
func (v *View) Commit(seq uint64, res Result) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if seq <= v.committed {
		return false
	}
	res.Seq = seq
	v.committed = seq
	v.current = &res
	return true
}

// Current returns the committed result, if any.
func (v *View) Current() (Result, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil {
		return Result{}, false
	}
	return *v.current, true
}
