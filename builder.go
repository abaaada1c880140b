// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package httppool

import "context"

// ConnectionBuilder is the asynchronous factory capability: given a key, it
// yields a fresh, never-used Connection tagged with that RequestKey, or
// fails. Build may fail arbitrarily; the pool reverses its optimistic
// accounting reservation when it does.
//
// The provided context is for building purposes only (dialing, handshake
// deadlines, ...); a ConnectionBuilder should apply its own default timeout
// since the pool may call Build asynchronously, well after the originating
// Borrow's own deadline has been communicated.
type ConnectionBuilder interface {
	Build(ctx context.Context, key RequestKey) (Connection, error)
}

// ConnectionBuilderFunc adapts an ordinary function to a ConnectionBuilder.
type ConnectionBuilderFunc func(ctx context.Context, key RequestKey) (Connection, error)

// Build calls f(ctx, key).
func (f ConnectionBuilderFunc) Build(ctx context.Context, key RequestKey) (Connection, error) {
	return f(ctx, key)
}
