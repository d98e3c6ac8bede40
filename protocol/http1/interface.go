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

// Package http1 implements the HTTP/1.1 wire protocol over one
// transport.Conn: pipelined dispatch, strict-FIFO response matching, and
// the pool.ManagedConn contract (spec.md §4.4's HTTP/1.1-specific rules).
// It frames its own request/status lines and headers rather than wrapping
// net/http's Transport, so the pool can own pipelining depth directly.
package http1

import (
	"github.com/nabbar/rhttpclient/exchange"
)

// Dispatcher is what the exchange state machine drives a connection
// through, independent of whether the underlying protocol is HTTP/1.1 or
// HTTP/2 (protocol/http2 implements the same shape).
type Dispatcher interface {
	// Dispatch frames e's request and enqueues its response for matching.
	// It returns once headers and body have been written to the wire, not
	// once the response has arrived. The caller must already have driven
	// e through StateAcquiring (so request_timeout starts ticking) before
	// calling Dispatch.
	Dispatch(e *exchange.Exchange) error
}
