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

// Package http2 implements the HTTP/2 wire protocol over one transport.Conn:
// a single read loop driving frames through golang.org/x/net/http2.Framer
// and HPACK, a stream table keyed by client-initiated stream ID, and the
// pool.ManagedConn contract (spec.md §4.4's HTTP/2-specific rules).
//
// Two deliberate simplifications from a fully spec-compliant HTTP/2 stack,
// both confined to this package:
//
//   - Flow control is not tracked. Every received DATA frame is immediately
//     acknowledged with a WINDOW_UPDATE of the same size, at both the stream
//     and connection level, so neither window can ever starve the peer.
//     There is no sender-side window accounting either: writeBody never
//     waits on a window it believes the peer has granted. This trades true
//     backpressure (a slow subscriber slowing the peer down) for simplicity;
//     each stream's response body channel holds one chunk, and a full
//     channel blocks the read loop, which bounds memory use on the receive
//     side.
//   - CONTINUATION frames are accumulated into the single, per-connection
//     HPACK decoder rather than into a reusable per-stream buffer, which is
//     correct per RFC 7540 §6.10 (only one HEADERS/CONTINUATION sequence may
//     be open on a connection at a time) but means a header block is decoded
//     incrementally as frames arrive rather than decoded once as a whole.
package http2

import (
	"github.com/nabbar/rhttpclient/exchange"
)

// Dispatcher is what the exchange state machine drives a connection
// through, independent of whether the underlying protocol is HTTP/1.1 or
// HTTP/2 (protocol/http1 implements the same shape).
type Dispatcher interface {
	// Dispatch opens a new stream for e, frames its headers and body, and
	// registers it in the stream table for response matching. The caller
	// must already have driven e through StateAcquiring (so request_timeout
	// starts ticking) before calling Dispatch.
	Dispatch(e *exchange.Exchange) error
}
