// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package httppool

import (
	"time"

	"golang.org/x/exp/rand"
)

// Clock supplies the pool's notion of "now". Kept pluggable so tests can
// advance it deterministically to exercise idle expiry and waiter aging
// without sleeping.
type Clock interface {
	Now() time.Time
}

// realClock is the default Clock, backed by time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RandSource supplies the uniform-over-keys randomness used for victim
// selection under global saturation. It is intentionally narrow (a single
// method) so a seeded golang.org/x/exp/rand.Rand, or any other source, can
// satisfy it in tests for deterministic victim choice.
type RandSource interface {
	// Intn returns a pseudo-random number in [0, n).
	Intn(n int) int
}

// newDefaultRandSource returns a RandSource seeded from the current time,
// the behavior a caller gets when it does not supply its own for testing.
func newDefaultRandSource() RandSource {
	return rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
}
