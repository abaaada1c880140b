// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package httppool

// State is a point-in-time snapshot of the pool's accounting. It exposes no
// locking: callers get a consistent copy taken while the pool lock was
// held, not a live view.
type State struct {
	Closed bool

	// Allocated is the per-key count of connections currently allocated
	// (idle + in-use + in-flight builds).
	Allocated map[RequestKey]int

	// Idle is the per-key depth of the idle queue.
	Idle map[RequestKey]int

	// Total is the sum of Allocated, i.e. the pool-wide connection count.
	Total int

	// Wait is the current length of the wait queue.
	Wait int
}

// State returns a consistent snapshot of the pool's counters.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := State{
		Closed:    p.closed,
		Allocated: make(map[RequestKey]int, len(p.allocated)),
		Idle:      make(map[RequestKey]int, len(p.idle)),
		Total:     p.total,
		Wait:      len(p.wait),
	}
	for k, n := range p.allocated {
		s.Allocated[k] = n
	}
	for k, q := range p.idle {
		s.Idle[k] = len(q)
	}
	return s
}
