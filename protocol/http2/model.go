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

package http2

import (
	"context"
	"fmt"
	"io"
	"net/textproto"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	xhttp2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	liberr "github.com/nabbar/golib/errors"

	"github.com/nabbar/rhttpclient/body"
	"github.com/nabbar/rhttpclient/exchange"
	"github.com/nabbar/rhttpclient/internal/idgen"
	"github.com/nabbar/rhttpclient/rherr"
	"github.com/nabbar/rhttpclient/transport"
)

const defaultMaxConcurrentStreams = 100

// stream is the connection's bookkeeping for one in-flight exchange, keyed
// by client-initiated (odd) stream ID.
type stream struct {
	id   uint32
	e    *exchange.Exchange
	body *streamBody
}

// Conn is one HTTP/2 connection: a stream table matched against frames read
// off a single golang.org/x/net/http2.Framer, per spec.md §4.4.
type Conn struct {
	id     string
	raw    transport.Conn
	framer *xhttp2.Framer
	scheme string

	hpackDec *hpack.Decoder
	// fields accumulates decoded header fields for whichever stream is
	// currently mid HEADERS/CONTINUATION sequence; only ever touched from
	// the read loop goroutine.
	fields            []hpack.HeaderField
	decodingStreamID  uint32
	decodingEndStream bool

	writeMu sync.Mutex

	streamsMu    sync.Mutex
	streams      map[uint32]*stream
	nextStreamID uint32

	maxConcurrentStreams int32
	inFlight             int32
	lastUsed             atomic.Value // time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

// New takes ownership of an already-connected transport.Conn, writes the
// HTTP/2 client connection preface and an initial (empty) SETTINGS frame,
// and starts the connection's single read loop. maxConcurrentStreams seeds
// the pipelining cap until the peer's own SETTINGS frame updates it. scheme
// is the ":scheme" pseudo-header value every request on this connection
// encodes (RFC 7540 §8.1.2.3); it defaults to "https" only as a last
// resort, since every real caller (endpoint.dial) always supplies it from
// the endpoint's own configured scheme.
func New(raw transport.Conn, maxConcurrentStreams int, scheme string) (*Conn, error) {
	if maxConcurrentStreams <= 0 {
		maxConcurrentStreams = defaultMaxConcurrentStreams
	}
	if scheme == "" {
		scheme = "https"
	}

	if _, err := raw.Write([]byte(xhttp2.ClientPreface)); err != nil {
		return nil, fmt.Errorf("http2: write client preface: %w", err)
	}

	c := &Conn{
		id:                   idgen.New(),
		raw:                  raw,
		framer:               xhttp2.NewFramer(raw, raw),
		scheme:               scheme,
		streams:              make(map[uint32]*stream),
		nextStreamID:         1,
		maxConcurrentStreams: int32(maxConcurrentStreams),
		closed:               make(chan struct{}),
	}
	c.hpackDec = hpack.NewDecoder(4096, c.onHeaderField)
	c.lastUsed.Store(time.Now())

	if err := c.framer.WriteSettings(); err != nil {
		return nil, fmt.Errorf("http2: write initial settings: %w", err)
	}

	go c.readLoop()
	return c, nil
}

func (c *Conn) ID() string                 { return c.id }
func (c *Conn) InFlight() int32            { return atomic.LoadInt32(&c.inFlight) }
func (c *Conn) MaxConcurrent() int         { return int(atomic.LoadInt32(&c.maxConcurrentStreams)) }
func (c *Conn) NegotiatedProtocol() string { return "h2" }
func (c *Conn) LastUsed() time.Time        { return c.lastUsed.Load().(time.Time) }

func (c *Conn) touch() { c.lastUsed.Store(time.Now()) }

// Ping writes a PING frame and returns once it has been written; it does
// not wait for the peer's ack (the read loop acks/consumes pings for every
// connection regardless of who is waiting, so round-trip measurement is out
// of scope here, matching protocol/http1's no-op Ping for the same probe).
func (c *Conn) Ping(_ context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WritePing(false, [8]byte{})
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.framer.WriteGoAway(0, xhttp2.ErrCodeNo, nil)
		c.writeMu.Unlock()
		close(c.closed)
		_ = c.raw.Close()
		c.failAll(rherr.ErrConnectionClosedPrematurely.Error(nil))
	})
	return nil
}

// Dispatch opens a new client-initiated stream for e.
func (c *Conn) Dispatch(e *exchange.Exchange) error {
	select {
	case <-c.closed:
		wrapped := rherr.ErrConnectionClosedPrematurely.Error(nil)
		e.Fail(wrapped)
		return wrapped
	default:
	}

	st := &stream{e: e}
	c.streamsMu.Lock()
	st.id = c.nextStreamID
	c.nextStreamID += 2
	c.streams[st.id] = st
	c.streamsMu.Unlock()

	atomic.AddInt32(&c.inFlight, 1)
	e.Transition(exchange.StateHeadersSending)
	e.SetCancelFunc(func() { c.cancelStream(st.id) })

	block, err := c.encodeHeaders(e.Request)
	if err != nil {
		wrapped := rherr.ErrHeadersInvalid.Error(err)
		c.removeStream(st.id)
		e.Fail(wrapped)
		return wrapped
	}

	hasBody := e.RequestBody != nil
	if err := c.writeHeaderBlock(st.id, block, !hasBody); err != nil {
		wrapped := rherr.ErrHeadersInvalid.Error(err)
		c.removeStream(st.id)
		e.Fail(wrapped)
		return wrapped
	}

	e.Transition(exchange.StateBodyStreaming)
	if hasBody {
		if err := c.writeBody(st.id, e.RequestBody); err != nil {
			wrapped := rherr.ErrBodyInvalid.Error(err)
			c.removeStream(st.id)
			e.Fail(wrapped)
			return wrapped
		}
	}

	e.Transition(exchange.StateResponseHeadersPending)
	c.touch()
	return nil
}

func (c *Conn) cancelStream(id uint32) {
	c.writeMu.Lock()
	_ = c.framer.WriteRSTStream(id, xhttp2.ErrCodeCancel)
	c.writeMu.Unlock()
	c.removeStream(id)
}

// removeStream drops id from the stream table and decrements in-flight
// accounting exactly once, however the stream ended (response completed,
// RST_STREAM, or connection teardown).
func (c *Conn) removeStream(id uint32) {
	c.streamsMu.Lock()
	_, ok := c.streams[id]
	if ok {
		delete(c.streams, id)
	}
	c.streamsMu.Unlock()
	if ok {
		atomic.AddInt32(&c.inFlight, -1)
	}
}

func (c *Conn) lookupStream(id uint32) *stream {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	return c.streams[id]
}

// encodeHeaders hpack-encodes e's pseudo headers followed by its regular
// headers, in the order RFC 7540 §8.1.2.1 requires (pseudo headers first).
func (c *Conn) encodeHeaders(req exchange.RequestHeaders) ([]byte, error) {
	var buf []byte
	w := &sliceWriter{buf: &buf}
	enc := hpack.NewEncoder(w)

	authority := req.Headers.Get("Host")

	fields := []hpack.HeaderField{
		{Name: ":method", Value: req.Method},
		{Name: ":scheme", Value: c.scheme},
		{Name: ":authority", Value: authority},
		{Name: ":path", Value: req.Path},
	}
	for _, f := range fields {
		if err := enc.WriteField(f); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		if k == "Host" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range req.Headers[k] {
			if err := enc.WriteField(hpack.HeaderField{Name: textproto.CanonicalMIMEHeaderKey(k), Value: v}); err != nil {
				return nil, err
			}
		}
	}
	return buf, nil
}

const maxFrameSize = 16384

// writeHeaderBlock chunks block across one HEADERS frame and, if needed,
// one or more CONTINUATION frames, per RFC 7540 §4.3.
func (c *Conn) writeHeaderBlock(id uint32, block []byte, endStream bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	first := block
	rest := []byte(nil)
	if len(block) > maxFrameSize {
		first = block[:maxFrameSize]
		rest = block[maxFrameSize:]
	}

	if err := c.framer.WriteHeaders(xhttp2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(rest) == 0,
	}); err != nil {
		return err
	}

	for len(rest) > 0 {
		chunk := rest
		if len(chunk) > maxFrameSize {
			chunk = rest[:maxFrameSize]
		}
		rest = rest[len(chunk):]
		if err := c.framer.WriteContinuation(id, len(rest) == 0, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) writeBody(id uint32, pub body.Publisher) error {
	sub, err := pub.Subscribe(context.Background())
	if err != nil {
		return err
	}
	sub = body.DefaultSequencer().Reshape(sub)
	defer sub.Cancel()

	var pending *body.Chunk
	for {
		next, err := sub.Next(context.Background())
		if err == io.EOF {
			return c.writeFinalData(id, pending)
		}
		if err != nil {
			if pending != nil {
				_ = pending.Release()
			}
			return err
		}
		if pending != nil {
			if werr := c.writeData(id, false, pending); werr != nil {
				return werr
			}
		}
		pending = next
	}
}

func (c *Conn) writeData(id uint32, endStream bool, chunk *body.Chunk) error {
	c.writeMu.Lock()
	err := c.framer.WriteData(id, endStream, chunk.Bytes())
	c.writeMu.Unlock()
	_ = chunk.Release()
	return err
}

func (c *Conn) writeFinalData(id uint32, pending *body.Chunk) error {
	if pending == nil {
		c.writeMu.Lock()
		err := c.framer.WriteData(id, true, nil)
		c.writeMu.Unlock()
		return err
	}
	return c.writeData(id, true, pending)
}

// readLoop is the connection's single I/O worker: every frame, in both
// directions of control flow (settings, headers, data, resets), is handled
// here so stream-table mutations never race with writes.
func (c *Conn) readLoop() {
	for {
		f, err := c.framer.ReadFrame()
		if err != nil {
			c.failAll(rherr.ErrConnectionClosedPrematurely.Error(err))
			return
		}
		c.touch()

		switch fr := f.(type) {
		case *xhttp2.SettingsFrame:
			c.handleSettings(fr)
		case *xhttp2.HeadersFrame:
			c.handleHeaders(fr)
		case *xhttp2.ContinuationFrame:
			c.handleContinuation(fr)
		case *xhttp2.DataFrame:
			c.handleData(fr)
		case *xhttp2.RSTStreamFrame:
			c.handleRST(fr)
		case *xhttp2.PingFrame:
			c.handlePing(fr)
		case *xhttp2.GoAwayFrame:
			c.failAll(rherr.ErrConnectionClosedPrematurely.Error(fmt.Errorf("goaway code=%d", fr.ErrCode)))
			return
		case *xhttp2.WindowUpdateFrame:
			// Flow control is not tracked on the send side (see package
			// doc); a peer's WINDOW_UPDATE carries no information we act on.
		}
	}
}

func (c *Conn) handleSettings(fr *xhttp2.SettingsFrame) {
	if fr.IsAck() {
		return
	}
	_ = fr.ForeachSetting(func(s xhttp2.Setting) error {
		if s.ID == xhttp2.SettingMaxConcurrentStreams {
			atomic.StoreInt32(&c.maxConcurrentStreams, int32(s.Val))
		}
		return nil
	})
	c.writeMu.Lock()
	_ = c.framer.WriteSettingsAck()
	c.writeMu.Unlock()
}

func (c *Conn) handlePing(fr *xhttp2.PingFrame) {
	if fr.IsAck() {
		return
	}
	c.writeMu.Lock()
	_ = c.framer.WritePing(true, fr.Data)
	c.writeMu.Unlock()
}

func (c *Conn) onHeaderField(f hpack.HeaderField) {
	c.fields = append(c.fields, f)
}

func (c *Conn) handleHeaders(fr *xhttp2.HeadersFrame) {
	st := c.lookupStream(fr.StreamID)
	if st == nil {
		return
	}

	c.fields = c.fields[:0]
	c.decodingStreamID = fr.StreamID
	c.decodingEndStream = fr.StreamEnded()

	if _, err := c.hpackDec.Write(fr.HeaderBlockFragment()); err != nil {
		c.failStream(st, rherr.ErrHeadersInvalid.Error(err))
		return
	}
	if fr.HeadersEnded() {
		c.finishHeaders(st, c.decodingEndStream)
	}
}

func (c *Conn) handleContinuation(fr *xhttp2.ContinuationFrame) {
	if fr.StreamID != c.decodingStreamID {
		return
	}
	st := c.lookupStream(fr.StreamID)
	if st == nil {
		return
	}
	if _, err := c.hpackDec.Write(fr.HeaderBlockFragment()); err != nil {
		c.failStream(st, rherr.ErrHeadersInvalid.Error(err))
		return
	}
	if fr.HeadersEnded() {
		c.finishHeaders(st, c.decodingEndStream)
	}
}

func (c *Conn) finishHeaders(st *stream, endStream bool) {
	status := 200
	headers := exchange.Headers{}
	for _, f := range c.fields {
		if f.Name == ":status" {
			if n, err := strconv.Atoi(f.Value); err == nil {
				status = n
			}
			continue
		}
		if f.IsPseudo() {
			continue
		}
		canon := textproto.CanonicalMIMEHeaderKey(f.Name)
		headers[canon] = append(headers[canon], f.Value)
	}
	c.fields = nil
	c.decodingStreamID = 0

	st.body = newStreamBody()

	// Decompression is wrapped lazily (body.LazyDecompress), not called
	// inline: this read loop is the only goroutine that ever pushes bytes
	// into st.body (via handleData), so constructing the decoder here would
	// block on its own leading read and deadlock the connection.
	var respBody body.Subscription = st.body
	if enc := headers.Get("Content-Encoding"); enc != "" {
		respBody = body.LazyDecompress(respBody, body.Encoding(enc))
	}

	st.e.Complete(exchange.ResponseHeaders{StatusCode: status, Headers: headers}, respBody)

	if endStream {
		st.body.finish(nil)
		c.removeStream(st.id)
	}
}

func (c *Conn) handleData(fr *xhttp2.DataFrame) {
	st := c.lookupStream(fr.StreamID)
	if st == nil {
		return
	}

	data := fr.Data()
	if len(data) > 0 && st.body != nil {
		cp := make([]byte, len(data))
		copy(cp, data)
		st.body.push(body.NewChunk(cp))

		c.writeMu.Lock()
		_ = c.framer.WriteWindowUpdate(0, uint32(len(data)))
		_ = c.framer.WriteWindowUpdate(fr.StreamID, uint32(len(data)))
		c.writeMu.Unlock()
	}

	if fr.StreamEnded() {
		if st.body != nil {
			st.body.finish(nil)
		}
		c.removeStream(st.id)
	}
}

func (c *Conn) handleRST(fr *xhttp2.RSTStreamFrame) {
	st := c.lookupStream(fr.StreamID)
	if st == nil {
		return
	}
	c.failStream(st, rherr.ErrStreamReset.Error(fmt.Errorf("rst_stream code=%d", fr.ErrCode)))
}

func (c *Conn) failStream(st *stream, err liberr.Error) {
	st.e.Fail(err)
	if st.body != nil {
		st.body.finish(err)
	}
	c.removeStream(st.id)
}

func (c *Conn) failAll(err liberr.Error) {
	c.streamsMu.Lock()
	all := make([]*stream, 0, len(c.streams))
	for _, st := range c.streams {
		all = append(all, st)
	}
	c.streams = make(map[uint32]*stream)
	c.streamsMu.Unlock()

	for _, st := range all {
		st.e.Fail(err)
		if st.body != nil {
			st.body.finish(err)
		}
		atomic.AddInt32(&c.inFlight, -1)
	}
}

// sliceWriter lets hpack.NewEncoder append into a plain []byte without an
// intermediate bytes.Buffer allocation per header field write.
type sliceWriter struct {
	buf *[]byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
