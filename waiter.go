// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package httppool

import (
	"time"

	"github.com/google/uuid"
)

// waiterResult is what a waiter's completion channel carries: exactly one
// of Conn or Err is set.
type waiterResult struct {
	Conn *NextConnection
	Err  error
}

// waiter is a queued Borrow that could not be served immediately. completion
// is a single-shot, buffered-by-one channel: the pool sends to it at most
// once and never blocks doing so.
//
// id exists only to correlate structured log lines about this waiter across
// its enqueue/expire/serve lifetime; it plays no role in pool semantics.
type waiter struct {
	key        RequestKey
	completion chan waiterResult
	enqueuedAt time.Time
	id         uuid.UUID
}

func newWaiter(key RequestKey, now time.Time) *waiter {
	return &waiter{
		key:        key,
		completion: make(chan waiterResult, 1),
		enqueuedAt: now,
		id:         uuid.New(),
	}
}

// succeed delivers a connection to the waiter. Safe to call under the pool
// lock: the channel is buffered by one and never blocks.
func (w *waiter) succeed(conn Connection, fresh bool) {
	w.completion <- waiterResult{Conn: &NextConnection{Conn: conn, Fresh: fresh}}
}

// fail delivers an error to the waiter.
func (w *waiter) fail(err error) {
	w.completion <- waiterResult{Err: err}
}

// expired reports whether the waiter has aged past the smaller of the two
// configured timeouts (a zero/negative timeout means "infinite", i.e. it
// never contributes to expiry).
func (w *waiter) expired(now time.Time, responseHeaderTimeout, requestTimeout time.Duration) bool {
	age := now.Sub(w.enqueuedAt)

	if responseHeaderTimeout > 0 && age > responseHeaderTimeout {
		return true
	}
	if requestTimeout > 0 && age > requestTimeout {
		return true
	}
	return false
}
