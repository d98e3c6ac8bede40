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
	"container/list"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// waitQueue bounds and orders pending acquisitions (spec.md §3 "pending-wait
// queue"). Admission is gated by a golang.org/x/sync/semaphore.Weighted sized
// to pool_buffer_size: TryAcquire gives the immediate-fail-if-full behavior
// spec.md §4.2 requires ("fail with ConnectionPoolExhausted") without a
// second length check racing the FIFO push. Ordering itself is a plain
// container/list FIFO behind a mutex — the list never needs priority
// semantics the way the active set does.
type waitQueue struct {
	mu   sync.Mutex
	fifo *list.List
	sem  *semaphore.Weighted
}

type waiter struct {
	notify   chan ManagedConn
	failed   chan error
	elem     *list.Element
	resolved int32 // CAS: whichever of popFront or dequeue wins owns the outcome
}

func newWaitQueue(bufferSize int) *waitQueue {
	admission := int64(bufferSize)
	if bufferSize <= 0 {
		admission = math.MaxInt64
	}
	return &waitQueue{
		fifo: list.New(),
		sem:  semaphore.NewWeighted(admission),
	}
}

// tryEnqueue admits a new waiter unless the queue is at pool_buffer_size
// capacity, in which case ok is false and the caller must fail with
// rherr.ErrConnectionPoolExhausted.
func (q *waitQueue) tryEnqueue() (*waiter, bool) {
	if !q.sem.TryAcquire(1) {
		return nil, false
	}

	w := &waiter{
		notify: make(chan ManagedConn, 1),
		failed: make(chan error, 1),
	}

	q.mu.Lock()
	w.elem = q.fifo.PushBack(w)
	q.mu.Unlock()

	return w, true
}

// release frees w's admission slot. Only ever called by the side that won
// w.resolved's CAS (popFront's caller, or dequeue itself), so it no longer
// needs its own guard.
func (q *waitQueue) release(w *waiter) {
	q.sem.Release(1)
}

// dequeue removes w from the FIFO if still present and releases its
// admission slot. Used when a waiter gives up client-side (ctx cancelled or
// pool_connect_timeout elapsed) before being served.
//
// It races popFront for ownership of w via the CAS on w.resolved: whichever
// side wins is the one that must release the admission slot, and the loser
// must not, since by the time it lost the winner has already been (or is
// about to be) handed a result on w.notify/w.failed. A caller that loses
// this race must wait on that channel instead of treating the waiter as
// abandoned (see connPool.resolveClaimed), or the admitted unit of capacity
// popFront already committed to w would never be released.
func (q *waitQueue) dequeue(w *waiter) bool {
	if !atomic.CompareAndSwapInt32(&w.resolved, 0, 1) {
		return false
	}
	q.mu.Lock()
	if w.elem != nil {
		q.fifo.Remove(w.elem)
		w.elem = nil
	}
	q.mu.Unlock()
	q.sem.Release(1)
	return true
}

// popFront pops the oldest waiter that dequeue has not already claimed, if
// any, and claims it for serving/failing. The caller must invoke release
// once it has served or failed the waiter.
func (q *waitQueue) popFront() *waiter {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		front := q.fifo.Front()
		if front == nil {
			return nil
		}
		q.fifo.Remove(front)

		w := front.Value.(*waiter)
		w.elem = nil

		if atomic.CompareAndSwapInt32(&w.resolved, 0, 1) {
			return w
		}
		// dequeue already claimed w (it gave up concurrently); its own
		// admission slot was already released there, so just move on.
	}
}

// len reports the current FIFO length, used by LoadFactor.
func (q *waitQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fifo.Len()
}

// drain pops every waiter and fails it with err — used by Shutdown.
func (q *waitQueue) drain(err error) {
	for {
		w := q.popFront()
		if w == nil {
			return
		}
		w.failed <- err
		q.release(w)
	}
}
