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

// Package pool implements the per-endpoint connection pool of spec.md §3/§4.2:
// admission, acquisition, parking, recycling, scaling and timeouts over a
// set of managed PooledConnection slots plus a bounded FIFO wait queue.
package pool

import (
	"context"
	"time"

	liberr "github.com/nabbar/golib/errors"
)

// State is one of the five PooledConnection lifecycle states of spec.md §3:
// "connecting, active, parked, draining, closed". All transitions are
// one-way except active <-> parked.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateParked
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateParked:
		return "parked"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome is reported on Release so the pool can tell a clean completion
// from one that should discourage reuse of the connection (e.g. the
// transport reported a mid-exchange error and the connection is no longer
// trustworthy for pipelining).
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeFailed
	OutcomeCancelled
)

// ManagedConn is the contract a protocol implementation (protocol/http1,
// protocol/http2) provides to the pool. The pool never speaks the wire
// protocol itself; it only tracks capacity and lifetime over this handle,
// exactly the separation of concerns spec.md draws between §4.2 (pool) and
// §4.4 (exchange state machine).
type ManagedConn interface {
	// ID uniquely identifies the connection for logging and metrics.
	ID() string

	// InFlight is the number of exchanges currently dispatched but not
	// completed on this connection.
	InFlight() int32

	// MaxConcurrent is the pipelining depth (HTTP/1.1) or concurrent stream
	// cap (HTTP/2) negotiated for this connection.
	MaxConcurrent() int

	// NegotiatedProtocol reports "http/1.1" or "h2".
	NegotiatedProtocol() string

	// LastUsed is the timestamp of the last request dispatched or response
	// byte received, used by the janitor's idle/keep-alive checks.
	LastUsed() time.Time

	// Ping sends a protocol-appropriate keep-alive probe to a parked
	// connection. Implementations that have no such probe (plain HTTP/1.1)
	// may no-op.
	Ping(ctx context.Context) error

	// Close tears the connection down unconditionally.
	Close() error
}

// Dialer opens one new ManagedConn. It is supplied by the endpoint, which
// owns the negotiation state machine (protocol/negotiate) the pool itself
// stays agnostic to.
type Dialer func(ctx context.Context) (ManagedConn, error)

// Lease is returned by Acquire: it reserves capacity for exactly one
// in-flight exchange on Conn. The caller (the exchange state machine) must
// call Release exactly once when the exchange reaches a terminal state.
type Lease struct {
	Conn    ManagedConn
	release func(Outcome)
	done    bool
}

// Release decrements the connection's in-flight accounting and, if the
// connection has capacity and there are waiters, dispatches the next one.
// Release is idempotent: a second call is a no-op, matching "resources are
// released on every terminal outcome by the component that owns them"
// (spec.md §7) without requiring every call site to track whether it has
// already released.
func (l *Lease) Release(outcome Outcome) {
	if l.done {
		return
	}
	l.done = true
	l.release(outcome)
}

// ConnectionPool is the full contract of spec.md §4.2.
type ConnectionPool interface {
	// Acquire reserves capacity for one exchange, following the selection
	// rule (least-loaded, warmest tie-break), scale-up, wait-queue and
	// timeout rules of spec.md §4.2. ctx bounds how long the caller is
	// willing to wait in the queue (pool_connect_timeout still applies on
	// top of it).
	Acquire(ctx context.Context) (*Lease, liberr.Error)

	// ActiveConnections reports the current count of active-state
	// connections (spec.md §8 invariant: 0 <= active <= pool_max_size).
	ActiveConnections() int

	// InFlightExchanges reports the summed in-flight exchange count across
	// every active connection — distinct from ActiveConnections, which
	// counts connections, not the exchanges dispatched on them.
	InFlightExchanges() int

	// LoadFactor computes spec.md §4.2's normalized saturation metric.
	LoadFactor() float32

	// Clean runs one janitor pass: parks idle active connections past
	// idle_timeout, closes parked connections past pool_keep_alive_timeout.
	// Called by the pool's own background ticker; exported so tests can
	// drive it deterministically without sleeping.
	Clean()

	// ShutdownGracefully stops accepting new acquisitions, waits for
	// in-flight exchanges to drain (bounded by timeout), then closes every
	// connection. Idempotent: once the pool has closed, a further call
	// returns nil.
	ShutdownGracefully(ctx context.Context, timeout time.Duration) liberr.Error

	// Shutdown closes every connection immediately and fails queued waiters
	// with rherr.ErrShutdown. Exchanges still in flight fail with the error
	// their connection's Close reports (rherr.ErrConnectionClosedPrematurely
	// for protocol/http1 and protocol/http2), not with rherr.ErrShutdown.
	// Idempotent.
	Shutdown() liberr.Error
}
