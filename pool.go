// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package httppool maintains pools of idle transport connections, keyed by
// destination endpoint, for efficient re-use by an HTTP client runtime.
//
// The pool itself never dials, never speaks HTTP, and never owns a socket:
// it is a capacity-accounting broker sitting between a client runtime (which
// schedules requests and timeouts) and a Connection layer (which owns
// transports). See the transport subpackage for a concrete, net.Dial-backed
// ConnectionBuilder that can be handed to NewPool.
package httppool

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// This is the size of the connection-opener request channel (Pool.openerCh).
// Sized generously so that a burst of releases handing work to the opener
// never blocks the releasing goroutine.
const connectionRequestQueueSize = 1 << 16

// Config is the pool's configuration. It is captured once by NewPool and
// never mutated afterward: every field here is fixed for the pool's
// lifetime, per the "immutable at construction" requirement.
//
// A zero Duration means "infinite" (no timeout/expiry), matching the
// convention this package's teacher uses for its own duration knobs.
type Config struct {
	// MaxTotal is the global ceiling on the number of connections the
	// pool will allocate across all keys. Must be > 0.
	MaxTotal int

	// MaxPerKey returns the ceiling for a given key; zero forbids the
	// key entirely. A nil MaxPerKey means unbounded per-key capacity
	// (subject to MaxTotal).
	MaxPerKey func(RequestKey) int

	// MaxWaitQueueLimit bounds the number of queued Borrow calls across
	// all keys. Zero means no waiting is permitted at all.
	MaxWaitQueueLimit int

	// ResponseHeaderTimeout and RequestTimeout bound how long a waiter
	// may sit in the wait queue before WaitQueueTimeoutError fires. A
	// waiter expires once it exceeds whichever of the two is finite and
	// smaller.
	ResponseHeaderTimeout time.Duration
	RequestTimeout        time.Duration

	// MaxIdleDuration bounds how long an idle connection may sit before
	// it must be shut down rather than handed out.
	MaxIdleDuration time.Duration

	// Clock supplies "now"; defaults to the real wall/monotonic clock.
	Clock Clock

	// Rand supplies the randomness behind victim selection under global
	// saturation; defaults to a time-seeded source.
	Rand RandSource

	// Logger receives structured debug events at each decision point.
	// Defaults to a no-op logger.
	Logger *zap.Logger
}

// Pool is a pool of zero or more Connections, keyed by RequestKey. It's
// safe for concurrent use by multiple goroutines.
type Pool struct {
	cfg     Config
	builder ConnectionBuilder
	clock   Clock
	rand    RandSource
	logger  *zap.Logger

	mu        sync.Mutex
	closed    bool
	total     int
	allocated map[RequestKey]int
	idle      map[RequestKey][]pooledConnection
	wait      []*waiter

	openerCh   chan *buildJob
	buildCtx   context.Context
	cancelOpen context.CancelFunc
}

// buildJob is a unit of work for the single connection-opener goroutine: go
// build a connection for key and report the outcome to w.
type buildJob struct {
	key RequestKey
	w   *waiter
}

// NewPool constructs a Pool around builder using cfg. It panics if
// MaxTotal <= 0, MaxWaitQueueLimit < 0, or builder is nil — these are
// programmer errors, not runtime conditions. Negative durations are not
// rejected; they are treated like zero (infinite).
func NewPool(cfg Config, builder ConnectionBuilder) *Pool {
	if cfg.MaxTotal <= 0 {
		panic("httppool: Config.MaxTotal must be > 0")
	}
	if cfg.MaxWaitQueueLimit < 0 {
		panic("httppool: Config.MaxWaitQueueLimit must be >= 0")
	}
	if builder == nil {
		panic("httppool: NewPool builder is nil")
	}

	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Rand == nil {
		cfg.Rand = newDefaultRandSource()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:         cfg,
		builder:     builder,
		clock:       cfg.Clock,
		rand:        cfg.Rand,
		logger:      cfg.Logger,
		allocated:   make(map[RequestKey]int),
		idle:        make(map[RequestKey][]pooledConnection),
		openerCh:    make(chan *buildJob, connectionRequestQueueSize),
		buildCtx:    ctx,
		cancelOpen:  cancel,
	}

	go p.connectionOpener()

	return p
}

func (p *Pool) now() time.Time { return p.clock.Now() }

func (p *Pool) maxPerKey(key RequestKey) int {
	if p.cfg.MaxPerKey == nil {
		return math.MaxInt32
	}
	return p.cfg.MaxPerKey(key)
}

// Borrow acquires a connection for key, building one if necessary, queueing
// if the pool is saturated, or evicting an idle connection belonging to
// another key to break a global-capacity deadlock. Borrow blocks until a
// connection is available, the pool is closed, the wait queue is full, the
// key is forbidden, a build fails, or ctx is done.
func (p *Pool) Borrow(ctx context.Context, key RequestKey) (*NextConnection, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if conn, ok := p.popFreshIdleLocked(key, p.now()); ok {
			p.mu.Unlock()
			p.logger.Debug("recycling idle connection", zap.Stringer("key", key))
			return &NextConnection{Conn: conn, Fresh: false}, nil
		}

		limit := p.maxPerKey(key)
		if limit == 0 {
			p.mu.Unlock()
			return nil, &NoConnectionAllowedError{Key: key}
		}

		if p.total < p.cfg.MaxTotal && p.allocated[key] < limit {
			p.incAllocatedLocked(key)
			p.mu.Unlock()
			return p.buildDirect(ctx, key)
		}

		if p.total >= p.cfg.MaxTotal {
			if victim, ok := p.pickVictimKeyLocked(); ok {
				p.evictOneLocked(victim)
				p.mu.Unlock()
				continue
			}
		}

		if len(p.wait) >= p.cfg.MaxWaitQueueLimit {
			p.mu.Unlock()
			return nil, ErrWaitQueueFull
		}

		w := newWaiter(key, p.now())
		p.wait = append(p.wait, w)
		p.mu.Unlock()
		p.logger.Debug("enqueueing waiter", zap.Stringer("key", key), zap.String("waiter_id", w.id.String()))

		select {
		case res := <-w.completion:
			if res.Err != nil {
				return nil, res.Err
			}
			return res.Conn, nil
		case <-ctx.Done():
			p.removeWaiterByIdentity(w)
			return nil, ctx.Err()
		}
	}
}

// popFreshIdleLocked pops idle entries for key until it finds one that is
// neither closed nor past its borrow deadline, or the queue runs dry.
func (p *Pool) popFreshIdleLocked(key RequestKey, now time.Time) (Connection, bool) {
	for {
		q := p.idle[key]
		if len(q) == 0 {
			return nil, false
		}

		pc := q[0]
		if len(q) == 1 {
			delete(p.idle, key)
		} else {
			p.idle[key] = q[1:]
		}

		if pc.conn.IsClosed() {
			p.decAllocatedLocked(key)
			p.logger.Debug("evicting closed idle connection", zap.Stringer("key", key))
			continue
		}

		if pc.hasDeadline && !now.Before(pc.borrowDeadline) {
			pc.conn.Shutdown()
			p.decAllocatedLocked(key)
			p.logger.Debug("evicting expired idle connection", zap.Stringer("key", key))
			continue
		}

		return pc.conn, true
	}
}

// pickVictimKeyLocked chooses, uniformly at random over keys (not over
// connections), a key that currently owns at least one idle entry. Keys are
// sorted before indexing so that a seeded RandSource yields a deterministic
// choice independent of Go's randomized map iteration order.
func (p *Pool) pickVictimKeyLocked() (RequestKey, bool) {
	if len(p.idle) == 0 {
		return RequestKey{}, false
	}

	keys := make([]RequestKey, 0, len(p.idle))
	for k := range p.idle {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	return keys[p.rand.Intn(len(keys))], true
}

// evictOneLocked shuts down the FIFO head of key's idle queue and reverses
// its accounting.
func (p *Pool) evictOneLocked(key RequestKey) {
	q := p.idle[key]
	if len(q) == 0 {
		return
	}

	pc := q[0]
	if len(q) == 1 {
		delete(p.idle, key)
	} else {
		p.idle[key] = q[1:]
	}

	pc.conn.Shutdown()
	p.decAllocatedLocked(key)
	p.logger.Debug("random eviction", zap.Stringer("victim_key", key))
}

// buildDirect runs the builder on the calling goroutine (already outside
// the pool lock) for a Borrow that reserved capacity itself.
func (p *Pool) buildDirect(ctx context.Context, key RequestKey) (*NextConnection, error) {
	conn, err := p.builder.Build(ctx, key)
	if err != nil {
		p.mu.Lock()
		p.disposeLocked(key, nil)
		p.mu.Unlock()
		p.logger.Debug("build failed", zap.Stringer("key", key), zap.Error(err))
		return nil, newBuildFailedError(key, err)
	}

	p.logger.Debug("built fresh connection", zap.Stringer("key", key))
	return &NextConnection{Conn: conn, Fresh: true}, nil
}

// disposeLocked reverses the optimistic reservation made for key and, if a
// connection object was produced before the failure, shuts it down. It does
// not attempt to satisfy waiters: the caller path already returns the
// failure to the originator. Once the pool is closed, Shutdown has already
// cleared the accounting, so there is no reservation left to reverse.
func (p *Pool) disposeLocked(key RequestKey, conn Connection) {
	if !p.closed {
		p.decAllocatedLocked(key)
	}
	if conn != nil {
		conn.Shutdown()
	}
}

func (p *Pool) incAllocatedLocked(key RequestKey) {
	p.total++
	p.allocated[key]++
}

func (p *Pool) decAllocatedLocked(key RequestKey) {
	p.total--
	if n := p.allocated[key] - 1; n <= 0 {
		delete(p.allocated, key)
	} else {
		p.allocated[key] = n
	}
}

// Release returns a borrowed connection to the pool. The key is
// conn.RequestKey().
func (p *Pool) Release(conn Connection) {
	if conn.IsRecyclable() {
		p.releaseRecyclable(conn)
		return
	}
	p.releaseNonRecyclable(conn)
}

func (p *Pool) releaseRecyclable(conn Connection) {
	key := conn.RequestKey()

	for {
		now := p.now()
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Shutdown()
			return
		}

		if idx, w := p.firstSameKeyWaiterLocked(key); w != nil {
			if w.expired(now, p.cfg.ResponseHeaderTimeout, p.cfg.RequestTimeout) {
				p.removeWaiterAtLocked(idx)
				p.mu.Unlock()
				p.logger.Debug("expiring waiter", zap.Stringer("key", w.key), zap.String("waiter_id", w.id.String()))
				w.fail(&WaitQueueTimeoutError{Key: w.key})
				continue
			}

			p.removeWaiterAtLocked(idx)
			p.mu.Unlock()
			p.logger.Debug("handing off connection to same-key waiter", zap.Stringer("key", key), zap.String("waiter_id", w.id.String()))
			w.succeed(conn, false)
			return
		}

		if len(p.wait) == 0 {
			p.parkIdleLocked(key, conn, now)
			p.mu.Unlock()
			p.logger.Debug("parking idle connection", zap.Stringer("key", key))
			return
		}

		if idx, w := p.findFirstAdmissibleWaiterLocked(now); w != nil {
			p.removeWaiterAtLocked(idx)
			p.decAllocatedLocked(key)
			p.incAllocatedLocked(w.key)
			p.mu.Unlock()

			p.logger.Debug("cross-key handoff, shutting down returned connection",
				zap.Stringer("returned_key", key), zap.Stringer("waiter_key", w.key), zap.String("waiter_id", w.id.String()))
			conn.Shutdown()
			p.submitBuildJob(w)
			return
		}

		p.parkIdleLocked(key, conn, now)
		p.mu.Unlock()
		p.logger.Debug("parking idle connection despite pending waiters blocked on their own per-key limit", zap.Stringer("key", key))
		return
	}
}

func (p *Pool) releaseNonRecyclable(conn Connection) {
	key := conn.RequestKey()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if !conn.IsClosed() {
			conn.Shutdown()
		}
		return
	}
	p.decAllocatedLocked(key)
	p.mu.Unlock()

	if !conn.IsClosed() {
		conn.Shutdown()
	}
	p.logger.Debug("releasing non-recyclable connection", zap.Stringer("key", key))

	p.mu.Lock()
	idx, w := p.findFirstAdmissibleWaiterLocked(p.now())
	if w == nil {
		p.mu.Unlock()
		return
	}
	p.removeWaiterAtLocked(idx)
	p.incAllocatedLocked(w.key)
	p.mu.Unlock()

	p.submitBuildJob(w)
}

// parkIdleLocked pushes conn onto idle[key] with a freshly computed borrow
// deadline, if MaxIdleDuration is finite.
func (p *Pool) parkIdleLocked(key RequestKey, conn Connection, now time.Time) {
	pc := pooledConnection{conn: conn}
	if p.cfg.MaxIdleDuration > 0 {
		pc.borrowDeadline = now.Add(p.cfg.MaxIdleDuration)
		pc.hasDeadline = true
	}
	p.idle[key] = append(p.idle[key], pc)
}

func (p *Pool) firstSameKeyWaiterLocked(key RequestKey) (int, *waiter) {
	for i, w := range p.wait {
		if w.key == key {
			return i, w
		}
	}
	return -1, nil
}

// sweepExpiredLocked fails and removes every waiter at the front of the
// wait queue that has aged past its timeout. Because all waiters share the
// same two timeouts and the queue is FIFO by enqueue time, the expired set
// is always exactly a prefix.
func (p *Pool) sweepExpiredLocked(now time.Time) {
	for len(p.wait) > 0 && p.wait[0].expired(now, p.cfg.ResponseHeaderTimeout, p.cfg.RequestTimeout) {
		w := p.wait[0]
		p.wait = p.wait[1:]
		p.logger.Debug("expiring waiter", zap.Stringer("key", w.key), zap.String("waiter_id", w.id.String()))
		w.fail(&WaitQueueTimeoutError{Key: w.key})
	}
}

// findFirstAdmissibleWaiterLocked sweeps expired waiters first, then
// returns the first remaining waiter whose per-key budget has room.
func (p *Pool) findFirstAdmissibleWaiterLocked(now time.Time) (int, *waiter) {
	p.sweepExpiredLocked(now)

	for i, w := range p.wait {
		if p.allocated[w.key] < p.maxPerKey(w.key) {
			return i, w
		}
	}
	return -1, nil
}

func (p *Pool) removeWaiterAtLocked(i int) {
	p.wait = append(p.wait[:i], p.wait[i+1:]...)
}

// removeWaiterByIdentity removes target from the wait queue if it is still
// there. If it is not — a releaser, the opener goroutine, or Invalidate
// already popped it and is in the process of (or has already finished)
// delivering a result to target.completion — this Borrow's own select lost
// the race to ctx.Done() after ownership had already been handed off. That
// delivery is guaranteed to happen exactly once (every removal path ends in
// a succeed/fail call on the removed waiter), so a background goroutine
// waits for it and reclaims any connection it carries instead of leaking it
// forever: unread, never shut down, and never decremented from accounting.
// This mirrors the teacher's own drain of a missed connRequest after a
// timed-out conn() deletes its pending request.
func (p *Pool) removeWaiterByIdentity(target *waiter) {
	p.mu.Lock()
	for i, w := range p.wait {
		if w == target {
			p.removeWaiterAtLocked(i)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	go p.reclaimAbandonedWaiter(target)
}

// reclaimAbandonedWaiter waits for the single delivery guaranteed for an
// already-dequeued waiter and, if it carried a connection nobody will ever
// read, releases it back into the pool unused.
func (p *Pool) reclaimAbandonedWaiter(w *waiter) {
	res := <-w.completion
	if res.Err != nil || res.Conn == nil {
		return
	}
	p.logger.Debug("reclaiming connection abandoned by a canceled Borrow",
		zap.Stringer("key", w.key), zap.String("waiter_id", w.id.String()))
	p.Release(res.Conn.Conn)
}

// submitBuildJob hands a reserved-but-unbuilt connection request to the
// single connection-opener goroutine. The caller must have already
// performed the optimistic accounting reservation for w.key under the pool
// lock before calling this.
func (p *Pool) submitBuildJob(w *waiter) {
	select {
	case p.openerCh <- &buildJob{key: w.key, w: w}:
	case <-p.buildCtx.Done():
		p.mu.Lock()
		p.disposeLocked(w.key, nil)
		p.mu.Unlock()
		w.fail(ErrPoolClosed)
	}
}

// connectionOpener runs in its own goroutine for the lifetime of the pool,
// serializing builds triggered by release/invalidate paths on behalf of
// waiters (builds triggered directly by Borrow run on the borrowing
// goroutine instead; see buildDirect).
func (p *Pool) connectionOpener() {
	for {
		select {
		case <-p.buildCtx.Done():
			return
		case job := <-p.openerCh:
			p.runBuildJob(job)
		}
	}
}

func (p *Pool) runBuildJob(job *buildJob) {
	conn, err := p.builder.Build(p.buildCtx, job.key)
	if err != nil {
		p.mu.Lock()
		p.disposeLocked(job.key, nil)
		p.mu.Unlock()
		p.logger.Debug("build failed for waiter", zap.Stringer("key", job.key), zap.String("waiter_id", job.w.id.String()), zap.Error(err))
		job.w.fail(newBuildFailedError(job.key, err))
		return
	}

	p.logger.Debug("built fresh connection for waiter", zap.Stringer("key", job.key), zap.String("waiter_id", job.w.id.String()))
	job.w.succeed(conn, true)
}

// Invalidate is the external "this connection is unusable" path, callable
// at any time including on connections the pool still considers in use. A
// second Invalidate on the same handle is a no-op rather than a
// double-decrement: MarkInvalidated's once-flag lives on conn itself, so
// the guard costs nothing once conn is no longer reachable, unlike a
// pool-wide "have I seen this connection" record that would have to retain
// every invalidated connection for the pool's lifetime.
//
// Invalidate shuts conn down even after the pool has been closed: Shutdown
// only tears down connections the pool still holds idle, so a connection
// the caller is holding when the pool closes is this method's
// responsibility to reclaim.
func (p *Pool) Invalidate(conn Connection) {
	if !conn.MarkInvalidated() {
		return
	}

	key := conn.RequestKey()
	now := p.now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if !conn.IsClosed() {
			conn.Shutdown()
		}
		return
	}
	p.decAllocatedLocked(key)
	idx, w := p.findFirstAdmissibleWaiterLocked(now)
	if w != nil {
		p.removeWaiterAtLocked(idx)
		p.incAllocatedLocked(w.key)
	}
	p.mu.Unlock()

	if !conn.IsClosed() {
		conn.Shutdown()
	}
	p.logger.Debug("invalidated connection", zap.Stringer("key", key))

	if w != nil {
		p.submitBuildJob(w)
	}
}

// Shutdown is terminal: it closes the pool, shuts down every idle
// connection concurrently, fails every queued waiter with ErrPoolClosed,
// and stops the connection-opener goroutine. Subsequent Borrow calls fail
// with ErrPoolClosed. Shutdown is idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	var idleConns []Connection
	for _, q := range p.idle {
		for _, pc := range q {
			idleConns = append(idleConns, pc.conn)
		}
	}
	p.idle = make(map[RequestKey][]pooledConnection)
	p.allocated = make(map[RequestKey]int)
	p.total = 0

	waiters := p.wait
	p.wait = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w.fail(ErrPoolClosed)
	}

	if len(idleConns) > 0 {
		g := new(errgroup.Group)
		for _, c := range idleConns {
			c := c
			g.Go(func() error {
				c.Shutdown()
				return nil
			})
		}
		_ = g.Wait()
	}

	p.cancelOpen()
	p.logger.Debug("pool shut down", zap.Int("idle_closed", len(idleConns)), zap.Int("waiters_failed", len(waiters)))
}
