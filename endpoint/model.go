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

package endpoint

import (
	"context"
	"net/textproto"
	"sync"

	"github.com/gobwas/ws"
	"golang.org/x/sync/errgroup"

	libatm "github.com/nabbar/golib/atomic"
	liberr "github.com/nabbar/golib/errors"
	liblog "github.com/nabbar/golib/logger"

	"github.com/nabbar/rhttpclient/body"
	"github.com/nabbar/rhttpclient/exchange"
	"github.com/nabbar/rhttpclient/exchange/intercept"
	"github.com/nabbar/rhttpclient/negotiate"
	"github.com/nabbar/rhttpclient/pool"
	"github.com/nabbar/rhttpclient/protocol/http1"
	"github.com/nabbar/rhttpclient/protocol/http2"
	"github.com/nabbar/rhttpclient/rherr"
	"github.com/nabbar/rhttpclient/transport"
	"github.com/nabbar/rhttpclient/websocket"
)

func canonicalHeaderKey(k string) string { return textproto.CanonicalMIMEHeaderKey(k) }

// dispatcher is the shape both protocol/http1.Conn and protocol/http2.Conn
// satisfy; kept local so endpoint doesn't need to import both packages'
// named Dispatcher interfaces to type-assert against a pool.ManagedConn.
type dispatcher interface {
	Dispatch(e *exchange.Exchange) error
}

// endpointImpl is the concrete Endpoint of spec.md §4.1.
type endpointImpl struct {
	cfg       Config
	authority string

	transport  transport.Transport
	negotiator negotiate.Negotiator
	pool       pool.ConnectionPool

	// local/remote/hasAddr track the most recently dialed connection's
	// endpoints; concurrent dials race harmlessly to "most recent wins",
	// so a lock-free atomic.Value per field fits better than a mutex
	// guarding all three together.
	local   libatm.Value[string]
	remote  libatm.Value[string]
	hasAddr libatm.Value[bool]

	wsMu  sync.Mutex
	wsSet map[websocket.Connection]struct{}

	closeOnce sync.Once
	closeErr  liberr.Error
}

// New builds an Endpoint over t (transport.NewDefault() when nil is fine
// for production use; tests supply a fake transport.Transport instead).
func New(cfg Config, t transport.Transport) (Endpoint, liberr.Error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if t == nil {
		t = transport.NewDefault()
	}

	ep := &endpointImpl{
		cfg:        cfg,
		authority:  Authority(cfg.Scheme, cfg.Host, cfg.Port),
		transport:  t,
		negotiator: negotiate.New(t, cfg.HTTPProtocolVersions),
		wsSet:      map[websocket.Connection]struct{}{},
		local:      libatm.NewValue[string](),
		remote:     libatm.NewValue[string](),
		hasAddr:    libatm.NewValue[bool](),
	}
	ep.pool = pool.New(ep.authority, cfg.Pool, ep.dial)
	return ep, nil
}

func (e *endpointImpl) dialOptions() transport.DialOptions {
	opts := transport.DialOptions{
		Network:     transport.NetworkTCP,
		Host:        e.cfg.Host,
		Port:        e.cfg.Port,
		ForceAddr:   e.cfg.ForceAddr,
		LocalAddr:   e.cfg.LocalAddr,
		DialTimeout: e.cfg.DialTimeout,
	}
	if e.cfg.Scheme == "https" {
		opts.TLS = e.cfg.TLS.New()
		versions := e.cfg.HTTPProtocolVersions
		if len(versions) == 0 {
			versions = []negotiate.Protocol{negotiate.ProtocolH2, negotiate.ProtocolHTTP1}
		}
		opts.ALPN = make([]string, 0, len(versions))
		for _, v := range versions {
			opts.ALPN = append(opts.ALPN, string(v))
		}
	}
	return opts
}

// dial is the pool.Dialer: negotiate a fresh connection and wrap it as the
// protocol-appropriate pool.ManagedConn.
func (e *endpointImpl) dial(ctx context.Context) (pool.ManagedConn, error) {
	res, err := e.negotiator.Negotiate(ctx, e.dialOptions())
	if err != nil {
		return nil, err
	}

	e.recordAddr(res.Conn)

	switch res.Protocol {
	case negotiate.ProtocolH2:
		return http2.New(res.Conn, e.cfg.Pool.MaxConcurrentPerConnection, e.cfg.Scheme)
	default:
		return http1.New(res.Conn, e.cfg.Pool.MaxConcurrentPerConnection, e.transport), nil
	}
}

func (e *endpointImpl) recordAddr(conn transport.Conn) {
	e.local.Store(conn.LocalAddr().String())
	e.remote.Store(conn.RemoteAddr().String())
	e.hasAddr.Store(true)
}

func (e *endpointImpl) Request(method, target string) *RequestBuilder {
	return &RequestBuilder{
		method:    method,
		target:    target,
		authority: e.authority,
		timeout:   e.cfg.RequestTimeout,
	}
}

// Send runs rb's interceptor chain (if any), then, unless short-circuited,
// acquires a connection and dispatches the request (spec.md §4.1/§4.5).
func (e *endpointImpl) Send(rb *RequestBuilder) (*exchange.Exchange, liberr.Error) {
	ctx := rb.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	authority := rb.authority
	if authority == "" {
		authority = e.authority
	}

	headers := rb.headers
	if headers == nil {
		headers = exchange.Headers{}
	}
	headers[canonicalHeaderKey("Host")] = []string{authority}

	reqHeaders := exchange.RequestHeaders{Method: rb.method, Path: rb.target, Headers: headers}

	if rb.interceptor != nil {
		in := intercept.InterceptableExchange{Request: reqHeaders, RequestBody: rb.body}
		out, result := rb.interceptor.Run(ctx, in)
		if result != nil {
			return synthesize(out.Request, result), nil
		}
		reqHeaders = out.Request
	}

	ex := exchange.New(reqHeaders, rb.body, rb.timeout)
	ex.Transition(exchange.StateAcquiring)

	lease, err := e.pool.Acquire(ctx)
	if err != nil {
		ex.Fail(err)
		return ex, err
	}

	ex.SetReleaseFunc(func(exchange.State) { lease.Release(releaseOutcome(ex)) })

	d, ok := lease.Conn.(dispatcher)
	if !ok {
		lease.Release(pool.OutcomeFailed)
		verr := rherr.ErrHeadersInvalid.Error(nil)
		ex.Fail(verr)
		return ex, verr
	}

	if dispatchErr := d.Dispatch(ex); dispatchErr != nil {
		if le, ok := dispatchErr.(liberr.Error); ok {
			return ex, le
		}
		wrapped := rherr.ErrHeadersInvalid.Error(dispatchErr)
		return ex, wrapped
	}

	return ex, nil
}

// releaseOutcome maps the exchange's terminal state to the pool Outcome the
// lease should report, so a failed/cancelled exchange discourages reuse of
// its connection the way spec.md §4.2's release() contract expects.
func releaseOutcome(ex *exchange.Exchange) pool.Outcome {
	switch ex.State() {
	case exchange.StateCompletedOk:
		return pool.OutcomeOK
	case exchange.StateCompletedCancelled:
		return pool.OutcomeCancelled
	default:
		return pool.OutcomeFailed
	}
}

// synthesize builds a terminal, already-completed Exchange carrying an
// interceptor's short-circuited response, with no pool acquisition
// (spec.md §4.5's worked example: "No acquisition occurs;
// getActiveRequests() unchanged").
func synthesize(req exchange.RequestHeaders, result *intercept.SynthesizedResponse) *exchange.Exchange {
	ex := exchange.New(req, nil, 0)
	sub, _ := body.FromBytes(result.Body).Subscribe(context.Background())
	ex.Complete(exchange.ResponseHeaders{StatusCode: result.StatusCode, Headers: result.Headers}, sub)
	return ex
}

func (e *endpointImpl) WebSocketRequest(target string) *WSBuilder {
	return &WSBuilder{target: target}
}

// SendWebSocket dials a fresh connection outside the pool (an upgraded
// WebSocket is detached and never pool-counted, so routing it through
// Acquire/Release would leak a slot the pool thinks is still active) and
// performs the handshake.
func (e *endpointImpl) SendWebSocket(wb *WSBuilder) (websocket.Connection, liberr.Error) {
	ctx := wb.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	// The upgrade is an HTTP/1.1 request, so this connection is negotiated
	// for HTTP/1.1 only, whatever HTTPProtocolVersions lists.
	opts := e.dialOptions()
	if opts.TLS != nil {
		opts.ALPN = []string{string(negotiate.ProtocolHTTP1)}
	}
	res, err := negotiate.New(e.transport, []negotiate.Protocol{negotiate.ProtocolHTTP1}).Negotiate(ctx, opts)
	if err != nil {
		return nil, rherr.ErrTransportConnectFailed.Error(err)
	}
	e.recordAddr(res.Conn)

	conn, uerr := websocket.Upgrade(res.Conn, websocket.UpgradeOptions{
		Host:              e.authority,
		Path:              wb.target,
		Headers:           wb.headers,
		Subprotocols:      wb.subprotocols,
		CloseFrameTimeout: e.cfg.WebSocketCloseFrameTimeout,
	})
	if uerr != nil {
		return nil, rherr.ErrWebSocketHandshake.Error(uerr)
	}

	e.wsMu.Lock()
	e.wsSet[conn] = struct{}{}
	e.wsMu.Unlock()
	go func() {
		<-conn.Closed()
		e.wsMu.Lock()
		delete(e.wsSet, conn)
		e.wsMu.Unlock()
	}()

	return conn, nil
}

func (e *endpointImpl) LocalAddress() (string, bool) {
	return e.local.Load(), e.hasAddr.Load()
}

func (e *endpointImpl) RemoteAddress() (string, bool) {
	return e.remote.Load(), e.hasAddr.Load()
}

func (e *endpointImpl) ActiveRequests() uint64 {
	return uint64(e.pool.InFlightExchanges())
}

func (e *endpointImpl) LoadFactor() float32 {
	return e.pool.LoadFactor()
}

func (e *endpointImpl) Shutdown() liberr.Error {
	e.closeOnce.Do(func() {
		e.closeErr = e.shutdownAll(func() liberr.Error { return e.pool.Shutdown() })
	})
	return e.closeErr
}

func (e *endpointImpl) ShutdownGracefully(ctx context.Context) liberr.Error {
	timeout := e.cfg.GracefulShutdownTimeout
	e.closeOnce.Do(func() {
		e.closeErr = e.shutdownAll(func() liberr.Error { return e.pool.ShutdownGracefully(ctx, timeout) })
	})
	return e.closeErr
}

// shutdownAll fans the pool shutdown out alongside closing every still-open
// WebSocket connection concurrently (golang.org/x/sync/errgroup, the
// teacher's go.mod dependency for exactly this "wait for independent
// cleanups, collect the first error" shape).
func (e *endpointImpl) shutdownAll(closePool func() liberr.Error) liberr.Error {
	var g errgroup.Group
	var poolErr liberr.Error

	g.Go(func() error {
		poolErr = closePool()
		return nil
	})

	e.wsMu.Lock()
	conns := make([]websocket.Connection, 0, len(e.wsSet))
	for c := range e.wsSet {
		conns = append(conns, c)
	}
	e.wsMu.Unlock()

	for _, c := range conns {
		c := c
		g.Go(func() error {
			return c.Close(ws.StatusNormalClosure, "endpoint shutdown")
		})
	}

	_ = g.Wait()

	liblog.GetDefault().Entry(liblog.InfoLevel, "endpoint: shutdown complete").
		FieldAdd("endpoint.authority", e.authority).
		Log()

	return poolErr
}
