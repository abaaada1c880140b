// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport provides a concrete httppool.Connection and
// httppool.ConnectionBuilder pair built on net.Dialer and crypto/tls.
//
// The core httppool package never imports net or crypto/tls; this package
// exists only to give callers (and this repository's own examples and
// integration tests) something real to Borrow and Release.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"

	"github.com/weiwenchen2022/httppool"
)

// Conn adapts a net.Conn to httppool.Connection.
//
// A Conn starts out recyclable. A higher framing layer that detects a
// protocol violation or an unrecoverable I/O error should call
// MarkNonRecyclable so the pool tears the connection down instead of
// handing it to another borrower.
type Conn struct {
	key httppool.RequestKey

	mu         sync.Mutex
	nc         net.Conn
	closed     bool
	recyclable bool

	invalidated atomic.Bool
}

func newConn(key httppool.RequestKey, nc net.Conn) *Conn {
	return &Conn{key: key, nc: nc, recyclable: true}
}

// RequestKey implements httppool.Connection.
func (c *Conn) RequestKey() httppool.RequestKey { return c.key }

// IsClosed implements httppool.Connection.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// IsRecyclable implements httppool.Connection.
func (c *Conn) IsRecyclable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recyclable && !c.closed
}

// MarkNonRecyclable flags the connection as unfit for reuse without closing
// it; the pool will shut it down on Release instead of parking it idle.
func (c *Conn) MarkNonRecyclable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recyclable = false
}

// Shutdown implements httppool.Connection. It is idempotent and safe to
// call concurrently with Raw.
func (c *Conn) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.nc.Close()
}

// MarkInvalidated implements httppool.Connection.
func (c *Conn) MarkInvalidated() bool {
	return !c.invalidated.Swap(true)
}

// Raw exposes the underlying net.Conn to a framing layer for the duration
// of f. The net.Conn must not be retained beyond f's return.
func (c *Conn) Raw(f func(net.Conn) error) error {
	c.mu.Lock()
	nc := c.nc
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return net.ErrClosed
	}
	return f(nc)
}

// DialBuilder is an httppool.ConnectionBuilder that dials key.Host:key.Port
// with a net.Dialer, wrapping the result in TLS (optionally mTLS, when
// TLSConfig carries client certificates) whenever key.Scheme is "https".
type DialBuilder struct {
	// Dialer is used for the underlying TCP dial. A nil Dialer uses
	// net.Dialer's zero value.
	Dialer *net.Dialer

	// TLSConfig is cloned and given a ServerName (if unset) before each
	// handshake when the key's scheme is "https". A nil TLSConfig uses
	// tls.Config's zero value.
	TLSConfig *tls.Config
}

// Build implements httppool.ConnectionBuilder.
func (b *DialBuilder) Build(ctx context.Context, key httppool.RequestKey) (httppool.Connection, error) {
	dialer := b.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	addr := net.JoinHostPort(key.Host, key.Port)

	if key.Scheme != "https" {
		nc, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return newConn(key, nc), nil
	}

	cfg := b.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg = cfg.Clone()
		cfg.ServerName = key.Host
	}

	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: cfg}
	nc, err := tlsDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newConn(key, nc), nil
}

var _ httppool.ConnectionBuilder = (*DialBuilder)(nil)
var _ httppool.Connection = (*Conn)(nil)
