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

package body

import (
	"github.com/nabbar/rhttpclient/transport"
)

// FileSink decides, for one request body, whether the zero-copy sendfile
// path (spec.md §4.6) applies: both the transport and the negotiated
// protocol must allow it. HTTP/2 DATA frames cannot carry a raw kernel
// sendfile payload (they need HPACK-independent length-prefixed framing the
// kernel does not produce), so only HTTP/1.1 connections are eligible here;
// protocol/http1 sets AllowSendfile whenever it was given a Transport, and
// protocol/http2 never builds a FileSink.
type FileSink struct {
	Transport     transport.Transport
	AllowSendfile bool
}

// Publish returns a Publisher for res. When the sink allows sendfile and the
// resource exposes a raw descriptor, the returned Publisher's Subscribe
// still yields chunks (the reactive contract does not special-case the
// wire), but callers that also hold the raw Conn (protocol/http1's
// exchange writer) should prefer TrySendfile directly and only fall back to
// this Publisher's chunking when TrySendfile reports unsupported. The
// returned Publisher also exposes Resource() so such a caller can recover
// res without having to track it separately.
func (s FileSink) Publish(res transport.Resource) (Publisher, error) {
	rc, err := res.OpenReadableChannel()
	if err != nil {
		return nil, err
	}
	return &resourcePublisher{Publisher: FromReader(rc, 64*1024), res: res}, nil
}

// resourcePublisher pairs a chunking Publisher with the transport.Resource
// it was built over, so a caller holding only the Publisher can still reach
// TrySendfile's zero-copy path.
type resourcePublisher struct {
	Publisher
	res transport.Resource
}

func (r *resourcePublisher) Resource() transport.Resource { return r.res }

// TrySendfile attempts the OS sendfile path for res over conn. It returns
// (0, transport.ErrSendfileUnsupported()) when the sink disallows it (e.g.
// HTTP/2 or a TLS connection) or the resource has no raw descriptor, in
// which case the caller must fall back to Publish-driven chunking.
func (s FileSink) TrySendfile(conn transport.Conn, res transport.Resource) (int64, error) {
	if !s.AllowSendfile || s.Transport == nil {
		return 0, transport.ErrSendfileUnsupported()
	}

	fd, offset, ok := res.CanSendfile()
	if !ok {
		return 0, transport.ErrSendfileUnsupported()
	}

	return s.Transport.Sendfile(conn, fd, offset, res.Size())
}
