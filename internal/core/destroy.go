package core

import "sync"

// deferred is one pending destruction.
type deferred struct {
	label string
	fn    func()
}

// submitted groups the deferred destructions of one submission.
type submitted struct {
	index   uint64
	pending []deferred
}

// destroyArena holds deferred destructions keyed by the submission index
// that must complete before they run.
//
// Usage:
//  1. While recording, a command buffer collects deferred entries.
//  2. On Submit, the entries move here under the submission index.
//  3. When completion advances, Triage runs every entry at or below it.
//  4. Device teardown calls FlushAll after the queue is idle.
type destroyArena struct {
	mu      sync.Mutex
	entries []submitted
}

// Defer schedules entries behind submission index.
func (a *destroyArena) Defer(index uint64, pending []deferred) {
	if len(pending) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, submitted{index: index, pending: pending})
}

// Triage runs every entry whose submission has completed and returns the
// number of resources destroyed. Entries are removed before they run, so
// each runs exactly once.
func (a *destroyArena) Triage(completed uint64) int {
	a.mu.Lock()
	var ready []deferred
	n := 0
	for i := range a.entries {
		if a.entries[i].index <= completed {
			ready = append(ready, a.entries[i].pending...)
		} else {
			a.entries[n] = a.entries[i]
			n++
		}
	}
	clear(a.entries[n:])
	a.entries = a.entries[:n]
	a.mu.Unlock()

	return run(ready, completed)
}

// FlushAll runs every entry regardless of completion.
func (a *destroyArena) FlushAll() int {
	a.mu.Lock()
	var ready []deferred
	for _, e := range a.entries {
		ready = append(ready, e.pending...)
	}
	a.entries = nil
	a.mu.Unlock()

	return run(ready, 0)
}

// Len returns the number of pending resources.
func (a *destroyArena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		n += len(e.pending)
	}
	return n
}

func run(ready []deferred, completed uint64) int {
	for _, d := range ready {
		slogger().Debug("rhi: deferred destroy", "resource", d.label, "completed", completed)
		d.fn()
	}
	return len(ready)
}
