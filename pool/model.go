/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package pool

import (
	"container/heap"
	"container/list"
	"context"
	"sync"
	"time"

	liberr "github.com/nabbar/golib/errors"
	liblog "github.com/nabbar/golib/logger"

	"github.com/nabbar/rhttpclient/internal/timerwheel"
	"github.com/nabbar/rhttpclient/rherr"
)

// connPool is the concrete ConnectionPool of spec.md §4.2: a set of active
// slots ordered by activeHeap, a parked FIFO (container/list, oldest park
// first), a connecting counter reserving pool_max_size capacity while a
// dial is in flight, and a waitQueue for callers that arrive when the pool
// is fully committed.
type connPool struct {
	mu sync.Mutex

	cfg  Config
	dial Dialer
	name string // endpoint authority, for log fields only

	active     activeHeap
	parked     *list.List // of *slot
	connecting int

	byID map[string]*slot

	wq *waitQueue

	closed   bool
	draining bool

	cleanStop chan struct{}
	cleanDone chan struct{}

	wheel *timerwheel.Wheel
}

// New builds a ConnectionPool bound to one endpoint authority. dial opens a
// new transport-level connection and is supplied by the endpoint, which
// owns protocol negotiation (the pool stays agnostic to HTTP/1.1 vs h2, per
// spec.md §4.2/§4.3 separation of concerns).
func New(name string, cfg Config, dial Dialer) ConnectionPool {
	p := &connPool{
		cfg:       cfg,
		dial:      dial,
		name:      name,
		parked:    list.New(),
		byID:      make(map[string]*slot),
		wq:        newWaitQueue(cfg.BufferSize),
		cleanStop: make(chan struct{}),
		cleanDone: make(chan struct{}),
		wheel:     timerwheel.New(10*time.Millisecond, 2048),
	}
	p.wheel.Start()

	if cfg.CleanPeriod > 0 {
		go p.janitor()
	} else {
		close(p.cleanDone)
	}

	return p
}

func (p *connPool) janitor() {
	defer close(p.cleanDone)

	t := time.NewTicker(p.cfg.CleanPeriod)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			p.Clean()
		case <-p.cleanStop:
			return
		}
	}
}

// Acquire implements spec.md §4.2's selection, scale-up and wait-queue
// rules. No I/O is performed while p.mu is held: dialing a new connection
// happens strictly after the lock is released.
func (p *connPool) Acquire(ctx context.Context) (*Lease, liberr.Error) {
	p.mu.Lock()

	if p.closed || p.draining {
		p.mu.Unlock()
		return nil, rherr.ErrShutdown.Error(nil)
	}

	if s := p.active.best(); s != nil {
		p.reserveLocked(s)
		p.mu.Unlock()
		return p.newLease(s), nil
	}

	if s := p.reinstateLocked(); s != nil {
		p.reserveLocked(s)
		p.mu.Unlock()
		return p.newLease(s), nil
	}

	total := len(p.active) + p.parked.Len() + p.connecting
	if total < p.cfg.MaxSize {
		p.connecting++
		p.mu.Unlock()
		return p.dialAndReserve(ctx)
	}

	p.mu.Unlock()
	lease, err := p.waitForSlot(ctx)
	if err != nil {
		p.reportAcquireFailure(err.GetCode().String())
	}
	return lease, err
}

// reinstateLocked promotes the warmest parked connection (the most recently
// parked one, popped from the back of the FIFO) back to active, ahead of
// opening a brand new connection, per spec.md §4.2 "reinstate".
func (p *connPool) reinstateLocked() *slot {
	back := p.parked.Back()
	if back == nil {
		return nil
	}
	p.parked.Remove(back)

	s := back.Value.(*slot)
	s.state = StateActive
	s.parkedAt = time.Time{}
	heap.Push(&p.active, s)
	return s
}

// reserveLocked marks one exchange in flight on s and re-sorts the heap.
func (p *connPool) reserveLocked(s *slot) {
	s.inFlight++
	reprioritize(&p.active, s)
}

func (p *connPool) newLease(s *slot) *Lease {
	return &Lease{
		Conn: s.conn,
		release: func(outcome Outcome) {
			p.releaseSlot(s, outcome)
		},
	}
}

// dialAndReserve opens a new connection outside the lock, retrying once on
// a transport-level failure (spec.md §7: transient connect failures are the
// one error class worth a single immediate retry before surfacing to the
// caller). On success the new connection is admitted as an active slot
// with in_flight=1; on failure the reserved pool_max_size unit is released
// and the first waiter, if any, is failed with the same error.
func (p *connPool) dialAndReserve(ctx context.Context) (*Lease, liberr.Error) {
	conn, err := p.dial(ctx)
	if err != nil {
		conn, err = p.dial(ctx)
	}

	p.mu.Lock()
	p.connecting--

	if err != nil {
		w := p.wq.popFront()
		p.reportMetricsLocked()
		p.mu.Unlock()

		e := rherr.ErrTransportConnectFailed.Error(err)
		p.logDial(e)
		p.reportAcquireFailure(rherr.ErrTransportConnectFailed.String())

		if w != nil {
			w.failed <- e
			p.wq.release(w)
		}
		return nil, e
	}

	s := &slot{conn: conn, state: StateActive, inFlight: 1}
	heap.Push(&p.active, s)
	p.byID[conn.ID()] = s
	p.reportMetricsLocked()
	p.mu.Unlock()

	return p.newLease(s), nil
}

// waitForSlot enqueues the caller on the FIFO wait queue and blocks until it
// is served a connection, fails, the pool shuts down, pool_connect_timeout
// elapses, or ctx is cancelled — whichever comes first.
func (p *connPool) waitForSlot(ctx context.Context) (*Lease, liberr.Error) {
	w, ok := p.wq.tryEnqueue()
	if !ok {
		return nil, rherr.ErrConnectionPoolExhausted.Error(nil)
	}

	var timeout <-chan time.Time
	if p.cfg.ConnectTimeout > 0 {
		timeout = p.wheel.After(p.cfg.ConnectTimeout)
	}

	select {
	case conn := <-w.notify:
		p.mu.Lock()
		s := p.byID[conn.ID()]
		p.mu.Unlock()
		if s == nil {
			return nil, rherr.ErrShutdown.Error(nil)
		}
		return p.newLease(s), nil

	case err := <-w.failed:
		if le, ok := err.(liberr.Error); ok {
			return nil, le
		}
		return nil, rherr.ErrTransportConnectFailed.Error(err)

	case <-timeout:
		if p.wq.dequeue(w) {
			return nil, rherr.ErrConnectionAcquisitionTimeout.Error(nil)
		}
		return p.resolveClaimed(w)

	case <-ctx.Done():
		if p.wq.dequeue(w) {
			return nil, rherr.ErrCancelled.Error(ctx.Err())
		}
		return p.resolveClaimed(w)
	}
}

// resolveClaimed is reached when dequeue reports it lost the claim race on w
// to popFront: releaseSlot or dialAndReserve has already committed (or is
// about to commit) a result to w.notify/w.failed, so the admitted unit of
// pool capacity is never abandoned — the caller just has to wait for it
// instead of discarding the waiter as given up.
func (p *connPool) resolveClaimed(w *waiter) (*Lease, liberr.Error) {
	select {
	case conn := <-w.notify:
		p.mu.Lock()
		s := p.byID[conn.ID()]
		p.mu.Unlock()
		if s == nil {
			return nil, rherr.ErrShutdown.Error(nil)
		}
		return p.newLease(s), nil

	case err := <-w.failed:
		if le, ok := err.(liberr.Error); ok {
			return nil, le
		}
		return nil, rherr.ErrTransportConnectFailed.Error(err)
	}
}

// releaseSlot is the Lease.Release callback: it decrements in_flight and
// either hands the slot directly to the oldest waiter (so a waiter never
// has to race a fresh Acquire for it) or, once in_flight reaches zero, lets
// the slot remain active until the next janitor pass parks it.
func (p *connPool) releaseSlot(s *slot, outcome Outcome) {
	p.mu.Lock()

	s.inFlight--
	if s.inFlight < 0 {
		s.inFlight = 0
	}
	if s.index >= 0 {
		reprioritize(&p.active, s)
	}

	if outcome == OutcomeFailed {
		p.removeLocked(s)
		p.reportMetricsLocked()
		p.mu.Unlock()
		_ = s.conn.Close()
		return
	}

	if w := p.wq.popFront(); w != nil {
		s.inFlight++
		reprioritize(&p.active, s)
		p.reportMetricsLocked()
		p.mu.Unlock()

		w.notify <- s.conn
		p.wq.release(w)
		return
	}

	p.reportMetricsLocked()
	p.mu.Unlock()
}

// removeLocked drops s from whichever set currently holds it (active or
// parked) and from the ID index. Caller holds p.mu.
func (p *connPool) removeLocked(s *slot) {
	delete(p.byID, s.conn.ID())

	switch s.state {
	case StateActive:
		if s.index >= 0 && s.index < len(p.active) {
			heap.Remove(&p.active, s.index)
		}
	case StateParked:
		for e := p.parked.Front(); e != nil; e = e.Next() {
			if e.Value.(*slot) == s {
				p.parked.Remove(e)
				break
			}
		}
	}
	s.state = StateClosed
}

// ActiveConnections reports the live active-state count.
func (p *connPool) ActiveConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// InFlightExchanges reports the summed in-flight exchange count across every
// active connection.
func (p *connPool) InFlightExchanges() int {
	return p.inFlightCount()
}

// LoadFactor is spec.md §4.2's normalized saturation signal: in-flight work
// plus queued demand against the pool's total dispatch capacity. A value
// near or above 1.0 means the endpoint is saturated.
func (p *connPool) LoadFactor() float32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var inFlight, capacity int
	for _, s := range p.active {
		inFlight += int(s.inFlight)
		capacity += s.conn.MaxConcurrent()
	}
	if capacity == 0 {
		capacity = p.cfg.MaxConcurrentPerConnection * maxInt(1, len(p.active))
	}
	var lf float32
	if capacity == 0 {
		if p.wq.len() > 0 {
			lf = 1
		}
	} else {
		lf = float32(inFlight+p.wq.len()) / float32(capacity)
	}

	loadFactor.WithLabelValues(p.name).Set(float64(lf))
	return lf
}

// Clean runs one janitor pass: active connections with no in-flight work
// and no server activity within idle_timeout are parked (unless doing so
// would drop active_connections below min_keep_alive_active); parked
// connections older than pool_keep_alive_timeout are closed.
func (p *connPool) Clean() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()

	if p.cfg.IdleTimeout > 0 {
		for i := 0; i < len(p.active); {
			s := p.active[i]
			if s.inFlight == 0 && now.Sub(s.conn.LastUsed()) >= p.cfg.IdleTimeout &&
				len(p.active) > p.cfg.MinKeepAliveActive {
				heap.Remove(&p.active, s.index)
				s.state = StateParked
				s.parkedAt = now
				p.parked.PushBack(s)
				continue
			}
			i++
		}
	}

	if p.cfg.KeepAliveTimeout > 0 {
		for e := p.parked.Front(); e != nil; {
			next := e.Next()
			s := e.Value.(*slot)
			if now.Sub(s.parkedAt) >= p.cfg.KeepAliveTimeout {
				p.parked.Remove(e)
				delete(p.byID, s.conn.ID())
				s.state = StateClosed
				go func(c ManagedConn) { _ = c.Close() }(s.conn)
			}
			e = next
		}
	}

	p.reportMetricsLocked()
}

// ShutdownGracefully stops admitting new work, drains in-flight exchanges
// up to timeout, then force-closes whatever remains. Idempotent.
func (p *connPool) ShutdownGracefully(ctx context.Context, timeout time.Duration) liberr.Error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.draining = true
	p.mu.Unlock()

	p.wq.drain(rherr.ErrShutdown.Error(nil))

	deadline := p.wheel.After(timeout)

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		if p.inFlightCount() == 0 {
			return p.Shutdown()
		}
		select {
		case <-tick.C:
		case <-deadline:
			return p.Shutdown()
		case <-ctx.Done():
			return p.Shutdown()
		}
	}
}

func (p *connPool) inFlightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for _, s := range p.active {
		n += int(s.inFlight)
	}
	return n
}

// Shutdown closes every connection immediately. Idempotent: a second call
// observes p.closed already true and returns nil without touching state
// that a concurrent first call may still be tearing down.
func (p *connPool) Shutdown() liberr.Error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var toClose []ManagedConn
	for _, s := range p.active {
		toClose = append(toClose, s.conn)
	}
	for e := p.parked.Front(); e != nil; e = e.Next() {
		toClose = append(toClose, e.Value.(*slot).conn)
	}
	p.active = nil
	p.parked.Init()
	p.byID = make(map[string]*slot)
	p.reportMetricsLocked()
	loadFactor.WithLabelValues(p.name).Set(0)

	select {
	case <-p.cleanStop:
	default:
		close(p.cleanStop)
	}
	p.mu.Unlock()

	p.wheel.Stop()
	p.wq.drain(rherr.ErrShutdown.Error(nil))

	e := rherr.ErrShutdown.Error(nil)
	for _, c := range toClose {
		if err := c.Close(); err != nil {
			e.Add(err)
		}
	}
	if !e.HasParent() {
		return nil
	}
	return e
}

func (p *connPool) logDial(e liberr.Error) {
	liblog.GetDefault().Entry(liblog.DebugLevel, "pool: dial failed").
		FieldAdd("pool.endpoint", p.name).
		ErrorAdd(true, e).
		Log()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
