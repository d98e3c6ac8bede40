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

package timerwheel

import (
	"testing"
	"time"
)

func TestAfterFuncFires(t *testing.T) {
	w := New(5*time.Millisecond, 64)
	w.Start()
	defer w.Stop()

	done := make(chan struct{})
	w.AfterFunc(20*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestStopPreventsFire(t *testing.T) {
	w := New(5*time.Millisecond, 64)
	w.Start()
	defer w.Stop()

	fired := false
	timer := w.AfterFunc(20*time.Millisecond, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("expected Stop to report pending timer")
	}
	time.Sleep(50 * time.Millisecond)
	if fired {
		t.Fatal("stopped timer must not fire")
	}
	if timer.Stop() {
		t.Fatal("second Stop on an already-stopped timer must report false")
	}
}

func TestAfterDeliversOnChannel(t *testing.T) {
	w := New(5*time.Millisecond, 64)
	w.Start()
	defer w.Stop()

	select {
	case <-w.After(10 * time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("After channel never fired")
	}
}

func TestWheelStopIsIdempotentAndHalts(t *testing.T) {
	w := New(5*time.Millisecond, 64)
	w.Start()
	w.Stop()
	w.Stop() // must not panic or block

	fired := false
	w.AfterFunc(10*time.Millisecond, func() { fired = true })
	time.Sleep(30 * time.Millisecond)
	if fired {
		t.Fatal("a stopped wheel's drive loop must not still be advancing")
	}
}
