// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package httppool

import "time"

// Connection is the capability the pool manages: an opaque handle onto a
// single underlying transport. Implementations are polymorphic over this
// interface only — the pool never imports a concrete transport package.
//
// Neither IsClosed nor IsRecyclable is assumed monotone across time, but
// once the pool has observed IsClosed() == true for a given Connection it
// will not re-offer it to a borrower.
type Connection interface {
	// RequestKey reports the destination this Connection was built for.
	RequestKey() RequestKey

	// IsClosed reports whether the underlying transport is already gone.
	IsClosed() bool

	// IsRecyclable reports whether the connection is in a clean,
	// post-request state and safe to hand to another borrower.
	IsRecyclable() bool

	// Shutdown tears the connection down. It must be idempotent,
	// synchronous, and must not panic.
	Shutdown()

	// MarkInvalidated atomically flips a once-flag on this handle and
	// reports whether this call was the one that flipped it. The pool
	// calls it at the start of Invalidate so two concurrent
	// Invalidate(conn) calls on the same handle can't both decrement its
	// accounting; unlike a pool-wide "have I seen this connection"
	// record, the flag lives on the handle itself, so it costs nothing
	// once the handle is no longer reachable.
	MarkInvalidated() bool
}

// NextConnection is what Borrow delivers on success.
type NextConnection struct {
	Conn Connection

	// Fresh is true if Conn was just produced by the ConnectionBuilder,
	// false if it was recycled from the idle set.
	Fresh bool
}

// pooledConnection is an idle entry: a Connection plus the deadline after
// which it must not be handed out, computed at insertion time.
type pooledConnection struct {
	conn Connection

	// borrowDeadline is the monotonic time after which this idle entry
	// must not be reused. hasDeadline is false when max_idle_duration was
	// infinite at the time this entry was parked.
	borrowDeadline time.Time
	hasDeadline    bool
}
