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

package exchange

import (
	"testing"
	"time"
)

func TestCancelBeforeHeadersHasNoWireEffect(t *testing.T) {
	e := New(RequestHeaders{Method: "GET", Path: "/"}, nil, 0)

	called := false
	e.SetCancelFunc(func() { called = true })

	e.Cancel(nil)

	if called {
		t.Fatalf("cancel before HeadersSending must not invoke the wire cancel func")
	}
	if e.State() != StateCompletedCancelled {
		t.Fatalf("expected StateCompletedCancelled, got %v", e.State())
	}
}

func TestCancelDuringBodyStreamingInvokesWireCancel(t *testing.T) {
	e := New(RequestHeaders{Method: "GET", Path: "/"}, nil, 0)
	e.Transition(StateAcquiring)
	e.Transition(StateHeadersSending)
	e.Transition(StateBodyStreaming)

	called := false
	e.SetCancelFunc(func() { called = true })

	e.Cancel(nil)

	if !called {
		t.Fatalf("cancel during BodyStreaming must invoke the wire cancel func")
	}
}

func TestTerminalStateIsSticky(t *testing.T) {
	e := New(RequestHeaders{Method: "GET", Path: "/"}, nil, 0)
	e.Transition(StateAcquiring)
	e.Fail(nil)

	if e.State() != StateCompletedFailed {
		t.Fatalf("expected StateCompletedFailed, got %v", e.State())
	}

	e.Transition(StateHeadersSending)
	if e.State() != StateCompletedFailed {
		t.Fatalf("terminal state must not accept further transitions, got %v", e.State())
	}
}

func TestReleaseFuncFiresExactlyOnceOnComplete(t *testing.T) {
	e := New(RequestHeaders{Method: "GET", Path: "/"}, nil, 0)

	calls := 0
	var seen State
	e.SetReleaseFunc(func(s State) {
		calls++
		seen = s
	})

	e.Complete(ResponseHeaders{StatusCode: 200}, nil)
	e.Fail(nil) // terminal already: must not fire release again

	if calls != 1 {
		t.Fatalf("expected release to fire exactly once, fired %d times", calls)
	}
	if seen != StateCompletedOk {
		t.Fatalf("expected release state StateCompletedOk, got %v", seen)
	}
}

func TestReleaseFuncFiresOnCancelBeforeHeaders(t *testing.T) {
	e := New(RequestHeaders{Method: "GET", Path: "/"}, nil, 0)

	released := false
	e.SetReleaseFunc(func(State) { released = true })
	e.Cancel(nil)

	if !released {
		t.Fatalf("expected release func to fire even when cancel has no wire effect")
	}
}

func TestDeadlineMeasuredFromAcquiring(t *testing.T) {
	e := New(RequestHeaders{Method: "GET", Path: "/"}, nil, time.Second)
	if !e.Deadline().IsZero() {
		t.Fatalf("deadline should be zero before Acquiring")
	}
	e.Transition(StateAcquiring)
	if e.Deadline().IsZero() {
		t.Fatalf("deadline should be set once Acquiring starts")
	}
}
