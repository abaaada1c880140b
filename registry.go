// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package httppool

import (
	"fmt"
	"sort"
	"sync"
)

var builders = struct {
	sync.RWMutex
	m map[string]ConnectionBuilder
}{m: make(map[string]ConnectionBuilder)}

// Register makes a ConnectionBuilder available under name, so pools can be
// opened with Open instead of wiring a builder by hand. If Register is
// called twice with the same name, builder is nil, or name is empty, it
// panics — database/sql's driver registry only guards against the first
// two, but an empty name can never be passed to Open usefully, so it's
// rejected here too.
func Register(name string, builder ConnectionBuilder) {
	if name == "" {
		panic("httppool: Register name is empty")
	}
	if builder == nil {
		panic("httppool: Register builder is nil")
	}

	builders.Lock()
	defer builders.Unlock()
	if _, dup := builders.m[name]; dup {
		panic("httppool: Register called twice for builder " + name)
	}
	builders.m[name] = builder
}

// unregisterAllBuilders is for tests.
func unregisterAllBuilders() {
	builders.Lock()
	defer builders.Unlock()
	builders.m = make(map[string]ConnectionBuilder)
}

// Builders returns a sorted list of the names of the registered builders.
func Builders() []string {
	builders.RLock()
	defer builders.RUnlock()

	list := make([]string, 0, len(builders.m))
	for name := range builders.m {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// Open opens a pool using the ConnectionBuilder previously registered under
// name.
func Open(name string, cfg Config) (*Pool, error) {
	builders.RLock()
	builder, ok := builders.m[name]
	builders.RUnlock()
	if !ok {
		return nil, fmt.Errorf("httppool: unknown builder %q (forgotten import?)", name)
	}

	return NewPool(cfg, builder), nil
}
