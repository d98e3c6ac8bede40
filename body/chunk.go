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

// Package body implements the reactive streaming contract of spec.md §4.6
// and §9: a lazy, single-subscription, backpressured sequence of byte
// chunks, a sequencer that reshapes arbitrary producer shapes into
// framer-friendly windows, a zero-copy sendfile sink, and transparent
// response decompression.
package body

import (
	"sync/atomic"

	liberr "github.com/nabbar/golib/errors"

	"github.com/nabbar/rhttpclient/rherr"
)

// Chunk is a reference-counted byte buffer. Spec.md §3/§9: "chunks carry an
// explicit release obligation (reference-counted)" and "map runtime
// refcounting into compile-time ownership where possible" — Release is the
// one call site that is allowed to free the buffer. A Release past zero
// leaves the buffer untouched and returns rherr.ErrBodyReleased instead of
// corrupting a pooled buffer silently.
type Chunk struct {
	data []byte
	refc int32
}

// NewChunk wraps b as a singly-owned Chunk ready to be handed to exactly one
// consumer.
func NewChunk(b []byte) *Chunk {
	return &Chunk{data: b, refc: 1}
}

// Bytes returns the chunk's payload. Calling Bytes after Release is a
// use-after-release bug; it returns nil in that case rather than reading
// freed memory back into view, but this is not a substitute for the caller
// respecting the ownership discipline.
func (c *Chunk) Bytes() []byte {
	if atomic.LoadInt32(&c.refc) <= 0 {
		return nil
	}
	return c.data
}

// Len reports the payload length, 0 once released.
func (c *Chunk) Len() int {
	return len(c.Bytes())
}

// Retain increments the reference count, e.g. when an interceptor fans the
// same chunk out to both the wire logger and the application subscriber.
func (c *Chunk) Retain() {
	atomic.AddInt32(&c.refc, 1)
}

// Release decrements the reference count. When it reaches zero the backing
// array is dropped for GC. Releasing a chunk with no outstanding reference
// returns rherr.ErrBodyReleased instead of panicking, so defensive release
// paths (subscription cancellation racing with a final consumer release)
// stay safe.
func (c *Chunk) Release() liberr.Error {
	n := atomic.AddInt32(&c.refc, -1)
	if n < 0 {
		atomic.StoreInt32(&c.refc, 0)
		return rherr.ErrBodyReleased.Error(nil)
	}
	if n == 0 {
		c.data = nil
	}
	return nil
}

// Released reports whether the chunk's refcount has reached zero.
func (c *Chunk) Released() bool {
	return atomic.LoadInt32(&c.refc) <= 0
}
