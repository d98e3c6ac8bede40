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

// Package timerwheel implements a timer wheel: a single background
// goroutine driving many cheap, cancellable one-shot timers instead of one
// runtime-managed time.Timer per deadline. pool uses one for
// pool_connect_timeout and the graceful-shutdown deadline, and websocket
// one for the close-frame wait.
//
// A Wheel is hashed, not hierarchical: AfterFunc buckets a timer by
// (now+duration) truncated to the tick resolution, and the drive loop
// advances one bucket per tick, firing everything parked there that has no
// whole revolution of the wheel left to wait. Cancel is O(1): each Timer
// remembers its own *list.Element so Stop can unlink it without scanning
// the bucket.
package timerwheel

import (
	"container/list"
	"sync"
	"time"
)

// Timer is a handle returned by Wheel.AfterFunc. Stop prevents a future
// fire; it has no effect once the timer has already fired.
type Timer struct {
	w       *Wheel
	bucket  int
	rounds  int
	elem    *list.Element
	fn      func()
	stopped bool
}

// Stop cancels the timer, reporting whether it was still pending.
func (t *Timer) Stop() bool {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()

	if t.stopped || t.elem == nil {
		return false
	}
	t.w.buckets[t.bucket].Remove(t.elem)
	t.stopped = true
	return true
}

// Wheel is a running timer wheel. Create with New, start with Start, and
// Stop to release its goroutine; a stopped Wheel cannot be restarted.
type Wheel struct {
	tick    time.Duration
	buckets []*list.List

	mu       sync.Mutex
	current  int
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a Wheel with the given tick resolution and slot count. A
// smaller tick gives finer deadline accuracy at the cost of more wakeups;
// tick*slots is one revolution of the wheel, and a timer with a longer
// duration stays in its bucket for as many whole revolutions as it needs
// before it fires.
func New(tick time.Duration, slots int) *Wheel {
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	if slots <= 0 {
		slots = 1024
	}
	w := &Wheel{
		tick:    tick,
		buckets: make([]*list.List, slots),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for i := range w.buckets {
		w.buckets[i] = list.New()
	}
	return w
}

// Start launches the drive goroutine. Calling Start more than once is a
// no-op.
func (w *Wheel) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.drive()
}

// Stop halts the drive goroutine and blocks until it has exited. Pending
// timers never fire after Stop returns.
func (w *Wheel) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
}

func (w *Wheel) drive() {
	defer close(w.doneCh)

	t := time.NewTicker(w.tick)
	defer t.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-t.C:
			w.advance()
		}
	}
}

func (w *Wheel) advance() {
	w.mu.Lock()
	bucket := w.buckets[w.current]
	var fire []func()
	for e := bucket.Front(); e != nil; {
		next := e.Next()
		tm := e.Value.(*Timer)
		if tm.rounds > 0 {
			tm.rounds--
		} else {
			fire = append(fire, tm.fn)
			bucket.Remove(e)
			tm.elem = nil
		}
		e = next
	}
	w.current = (w.current + 1) % len(w.buckets)
	w.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

// AfterFunc schedules fn to run once, d from now, on the wheel's drive
// goroutine (so fn must not block). A non-positive d fires on the wheel's
// very next tick rather than synchronously, matching time.AfterFunc's
// "always asynchronous" contract.
func (w *Wheel) AfterFunc(d time.Duration, fn func()) *Timer {
	steps := int(d / w.tick)
	if steps < 0 {
		steps = 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	target := (w.current + steps) % len(w.buckets)
	timer := &Timer{w: w, bucket: target, rounds: steps / len(w.buckets)}
	timer.fn = fn
	timer.elem = w.buckets[target].PushBack(timer)
	return timer
}

// After returns a channel that receives the current time once, d from now,
// mirroring time.After's signature so call sites can switch between a
// package-level timer and a shared Wheel without reshaping their select.
func (w *Wheel) After(d time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	w.AfterFunc(d, func() { c <- time.Now() })
	return c
}
