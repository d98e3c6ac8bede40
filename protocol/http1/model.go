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

package http1

import (
	"bufio"
	"container/list"
	"context"
	"fmt"
	"io"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	liberr "github.com/nabbar/golib/errors"

	"github.com/nabbar/rhttpclient/body"
	"github.com/nabbar/rhttpclient/exchange"
	"github.com/nabbar/rhttpclient/internal/idgen"
	"github.com/nabbar/rhttpclient/rherr"
	"github.com/nabbar/rhttpclient/transport"
)

// resourceBacked is implemented by a body.Publisher that was built over a
// transport.Resource (body.FileSink.Publish), letting writeBody recover the
// resource and attempt the zero-copy sendfile path before falling back to
// the publisher's own chunking.
type resourceBacked interface {
	Resource() transport.Resource
}

// Conn is one HTTP/1.1 connection: a pipelined FIFO of dispatched exchanges
// matched strictly in order against responses read off the wire, per
// spec.md §4.4 ("response matching is by strict FIFO order").
type Conn struct {
	id  string
	raw transport.Conn
	br  *bufio.Reader

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   *list.List // of *exchange.Exchange, oldest-dispatched first

	maxConcurrent int
	inFlight      int32
	lastUsed      atomic.Value // time.Time

	sink body.FileSink

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps an already-connected transport.Conn as a pipelined HTTP/1.1
// connection and starts its response-reading loop. t, when non-nil, is the
// transport the connection was dialed through; it is only consulted for the
// zero-copy sendfile path (body.FileSink) and a nil t simply disables it.
func New(raw transport.Conn, maxConcurrent int, t transport.Transport) *Conn {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	c := &Conn{
		id:            idgen.New(),
		raw:           raw,
		br:            bufio.NewReader(raw),
		pending:       list.New(),
		maxConcurrent: maxConcurrent,
		sink:          body.FileSink{Transport: t, AllowSendfile: t != nil},
		closed:        make(chan struct{}),
	}
	c.lastUsed.Store(time.Now())
	go c.readLoop()
	return c
}

func (c *Conn) ID() string                    { return c.id }
func (c *Conn) InFlight() int32               { return atomic.LoadInt32(&c.inFlight) }
func (c *Conn) MaxConcurrent() int            { return c.maxConcurrent }
func (c *Conn) NegotiatedProtocol() string    { return "http/1.1" }
func (c *Conn) LastUsed() time.Time           { return c.lastUsed.Load().(time.Time) }

func (c *Conn) Ping(_ context.Context) error { return nil }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.raw.Close()
		c.failPending(rherr.ErrConnectionClosedPrematurely.Error(nil))
	})
	return nil
}

func (c *Conn) touch() { c.lastUsed.Store(time.Now()) }

// Dispatch writes e's request line, headers and body to the wire and
// enqueues e for response matching. No prefetching: the body publisher is
// only subscribed here, after headers have been framed successfully
// (spec.md §4.4).
func (c *Conn) Dispatch(e *exchange.Exchange) error {
	atomic.AddInt32(&c.inFlight, 1)
	e.Transition(exchange.StateHeadersSending)

	c.pendingMu.Lock()
	elem := c.pending.PushBack(e)
	c.pendingMu.Unlock()

	e.SetCancelFunc(func() {
		_ = c.Close()
	})

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.writeRequestLine(e.Request); err != nil {
		c.dropPending(elem)
		return c.fail(e, err)
	}

	chunked := e.Request.Headers.Get("Content-Length") == "" && e.RequestBody != nil
	if err := c.writeHeaders(e.Request, chunked); err != nil {
		c.dropPending(elem)
		return c.fail(e, err)
	}

	e.Transition(exchange.StateBodyStreaming)
	if err := c.writeBody(e.RequestBody, chunked); err != nil {
		c.dropPending(elem)
		return c.fail(e, err)
	}

	e.Transition(exchange.StateResponseHeadersPending)
	c.touch()
	return nil
}

func (c *Conn) fail(e *exchange.Exchange, err error) error {
	wrapped := rherr.ErrHeadersInvalid.Error(err)
	e.Fail(wrapped)
	return wrapped
}

func (c *Conn) dropPending(elem *list.Element) {
	c.pendingMu.Lock()
	c.pending.Remove(elem)
	c.pendingMu.Unlock()
	atomic.AddInt32(&c.inFlight, -1)
}

func (c *Conn) writeRequestLine(req exchange.RequestHeaders) error {
	_, err := fmt.Fprintf(c.raw, "%s %s HTTP/1.1\r\n", req.Method, req.Path)
	return err
}

func (c *Conn) writeHeaders(req exchange.RequestHeaders, chunked bool) error {
	for k, vs := range req.Headers {
		for _, v := range vs {
			if _, err := fmt.Fprintf(c.raw, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	if chunked {
		if _, err := io.WriteString(c.raw, "Transfer-Encoding: chunked\r\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(c.raw, "\r\n")
	return err
}

func (c *Conn) writeBody(pub body.Publisher, chunked bool) error {
	if pub == nil {
		return nil
	}

	// A resource-backed, non-chunked body (known Content-Length) is the one
	// shape the zero-copy path applies to: chunked framing needs to control
	// the writes itself to emit chunk-size prefixes, which sendfile cannot
	// do. Fall through to the normal chunking loop below whenever
	// TrySendfile reports unsupported (TLS connections, non-resource bodies,
	// or a sink with sendfile disabled).
	if !chunked {
		if rb, ok := pub.(resourceBacked); ok {
			if _, err := c.sink.TrySendfile(c.raw, rb.Resource()); err == nil {
				return nil
			}
		}
	}

	var w io.Writer = c.raw
	var cw io.WriteCloser
	if chunked {
		cw = httputil.NewChunkedWriter(c.raw)
		w = cw
	}

	sub, err := pub.Subscribe(context.Background())
	if err != nil {
		return err
	}
	sub = body.DefaultSequencer().Reshape(sub)
	defer sub.Cancel()

	for {
		chunk, err := sub.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk.Bytes()); err != nil {
			_ = chunk.Release()
			return err
		}
		_ = chunk.Release()
	}

	if cw != nil {
		return cw.Close()
	}
	return nil
}

// readLoop reads responses strictly in FIFO order against c.pending and
// completes each matching exchange.
func (c *Conn) readLoop() {
	for {
		e := c.popPending()
		if e == nil {
			// Nothing dispatched yet; anything on the wire now would be
			// a server-initiated push, which HTTP/1.1 doesn't have. Poll
			// every 10ms until an exchange is dispatched or the
			// connection closes.
			select {
			case <-c.closed:
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		resp, sub, err := c.readOneResponse()
		if err != nil {
			e.Fail(rherr.ErrConnectionClosedPrematurely.Error(err))
			atomic.AddInt32(&c.inFlight, -1)
			_ = c.Close()
			return
		}

		e.Complete(resp, sub)
		atomic.AddInt32(&c.inFlight, -1)
		c.touch()
	}
}

func (c *Conn) popPending() *exchange.Exchange {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	front := c.pending.Front()
	if front == nil {
		return nil
	}
	c.pending.Remove(front)
	return front.Value.(*exchange.Exchange)
}

func (c *Conn) failPending(err liberr.Error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for e := c.pending.Front(); e != nil; e = e.Next() {
		e.Value.(*exchange.Exchange).Fail(err)
	}
	c.pending.Init()
}

func (c *Conn) readOneResponse() (exchange.ResponseHeaders, body.Subscription, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		return exchange.ResponseHeaders{}, nil, err
	}
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(parts) < 2 {
		return exchange.ResponseHeaders{}, nil, fmt.Errorf("malformed status line %q", line)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return exchange.ResponseHeaders{}, nil, fmt.Errorf("malformed status code %q", parts[1])
	}

	tp := textproto.NewReader(c.br)
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return exchange.ResponseHeaders{}, nil, err
	}

	headers := exchange.Headers(mimeHeader)

	var bodyReader io.Reader
	if strings.EqualFold(headers.Get("Transfer-Encoding"), "chunked") {
		bodyReader = httputil.NewChunkedReader(c.br)
	} else if cl := headers.Get("Content-Length"); cl != "" {
		n, _ := strconv.ParseInt(cl, 10, 64)
		bodyReader = io.LimitReader(c.br, n)
	} else {
		bodyReader = io.LimitReader(c.br, 0)
	}

	sub, err := body.FromReader(bodyReader, 32*1024).Subscribe(context.Background())
	if err != nil {
		return exchange.ResponseHeaders{}, nil, err
	}

	// Safe to decode inline here, unlike protocol/http2's finishHeaders:
	// bodyReader is read off the raw connection by body.FromReader's own
	// pump goroutine, not by readLoop or the consumer, so constructing the
	// decoder's leading read cannot deadlock against anything.
	if enc := headers.Get("Content-Encoding"); enc != "" {
		decoded, derr := body.Decompress(sub, body.Encoding(enc))
		if derr != nil {
			return exchange.ResponseHeaders{}, nil, derr
		}
		sub = decoded
	}

	return exchange.ResponseHeaders{StatusCode: status, Headers: headers}, sub, nil
}
