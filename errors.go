// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package httppool

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrPoolClosed is returned by Borrow after Shutdown has completed. It is
// terminal: once observed for a pool, every subsequent Borrow on it returns
// the same error.
var ErrPoolClosed = errors.New("httppool: pool is closed")

// ErrWaitQueueFull is the synchronous rejection Borrow returns when
// admitting a waiter would exceed max_wait_queue_limit. The caller may back
// off and retry.
var ErrWaitQueueFull = errors.New("httppool: wait queue is full")

// NoConnectionAllowedError is returned by Borrow when the key's per-key
// ceiling is zero. It is permanent for that key: the pool's configuration
// never changes after construction, so retrying will not help.
type NoConnectionAllowedError struct {
	Key RequestKey
}

func (e *NoConnectionAllowedError) Error() string {
	return fmt.Sprintf("httppool: no connections allowed for %s", e.Key)
}

// WaitQueueTimeoutError is returned to a waiter that aged past the smaller
// of the pool's ResponseHeaderTimeout and RequestTimeout before it could be
// served.
type WaitQueueTimeoutError struct {
	Key RequestKey
}

func (e *WaitQueueTimeoutError) Error() string {
	return fmt.Sprintf("httppool: timed out waiting for a connection to %s", e.Key)
}

// BuildFailedError wraps the error returned by a ConnectionBuilder. Cause is
// captured with github.com/pkg/errors so that %+v formatting retains a
// stack trace from the point the builder's failure was observed, even
// though the failure is reported to the waiter on a different goroutine.
type BuildFailedError struct {
	Key   RequestKey
	Cause error
}

func newBuildFailedError(key RequestKey, cause error) *BuildFailedError {
	return &BuildFailedError{Key: key, Cause: pkgerrors.WithStack(cause)}
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("httppool: building connection to %s: %v", e.Key, e.Cause)
}

// Unwrap exposes Cause for errors.Is / errors.As.
func (e *BuildFailedError) Unwrap() error {
	return e.Cause
}
