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

// Package endpoint ties the pool, negotiate and protocol packages together
// into the process-lifetime client object of spec.md §3/§4.1: one Endpoint
// per (scheme, host, port, config), built once, used concurrently, shut
// down once.
package endpoint

import (
	"context"
	"fmt"
	"strconv"
	"time"

	libval "github.com/go-playground/validator/v10"
	libtls "github.com/nabbar/golib/certificates"
	liberr "github.com/nabbar/golib/errors"

	"github.com/nabbar/rhttpclient/body"
	"github.com/nabbar/rhttpclient/exchange"
	"github.com/nabbar/rhttpclient/exchange/intercept"
	"github.com/nabbar/rhttpclient/negotiate"
	"github.com/nabbar/rhttpclient/pool"
	"github.com/nabbar/rhttpclient/rherr"
	"github.com/nabbar/rhttpclient/websocket"
)

// Config binds one Endpoint to its server and behavior, the HttpClientConfig
// + NetConfig pair of spec.md §3/§4.1 collapsed into one struct following
// httpcli/options.go's Options tagging convention.
type Config struct {
	Scheme string `json:"scheme" yaml:"scheme" toml:"scheme" mapstructure:"scheme" validate:"oneof=http https"`
	Host   string `json:"host" yaml:"host" toml:"host" mapstructure:"host" validate:"required"`
	Port   int    `json:"port" yaml:"port" toml:"port" mapstructure:"port" validate:"gte=1,lte=65535"`

	// TLS is only consulted when Scheme is "https"; it is converted to a
	// libtls.TLSConfig via (*libtls.Config).New() when dialing.
	TLS libtls.Config `json:"tls" yaml:"tls" toml:"tls" mapstructure:"tls"`

	// HTTPProtocolVersions is the preference-ordered list of protocol
	// versions this endpoint negotiates (spec.md §4.3): over TLS it becomes
	// the ALPN offer; over cleartext ("http") it decides whether to speak
	// HTTP/1.1 only, HTTP/2 with prior knowledge only, or attempt the H2C
	// upgrade handshake when both values are present. DefaultConfig sets
	// {h2, http/1.1}.
	HTTPProtocolVersions []negotiate.Protocol `json:"http_protocol_versions" yaml:"http_protocol_versions" toml:"http_protocol_versions" mapstructure:"http_protocol_versions"`

	// ForceAddr/LocalAddr mirror httpcli/options.go's OptionForceIP.
	ForceAddr string `json:"force_addr" yaml:"force_addr" toml:"force_addr" mapstructure:"force_addr"`
	LocalAddr string `json:"local_addr" yaml:"local_addr" toml:"local_addr" mapstructure:"local_addr"`

	DialTimeout    time.Duration `json:"dial_timeout" yaml:"dial_timeout" toml:"dial_timeout" mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout" mapstructure:"request_timeout"`

	// GracefulShutdownTimeout bounds ShutdownGracefully's drain wait.
	GracefulShutdownTimeout time.Duration `json:"graceful_shutdown_timeout" yaml:"graceful_shutdown_timeout" toml:"graceful_shutdown_timeout" mapstructure:"graceful_shutdown_timeout"`

	// WebSocketCloseFrameTimeout is websocket.UpgradeOptions.CloseFrameTimeout
	// applied to every upgrade performed through this endpoint.
	WebSocketCloseFrameTimeout time.Duration `json:"websocket_close_frame_timeout" yaml:"websocket_close_frame_timeout" toml:"websocket_close_frame_timeout" mapstructure:"websocket_close_frame_timeout"`

	Pool pool.Config `json:"pool" yaml:"pool" toml:"pool" mapstructure:"pool"`
}

// DefaultConfig mirrors pool.DefaultConfig's documented baseline, extended
// with the endpoint-level timeouts spec.md §6 lists alongside pool_*.
func DefaultConfig() Config {
	return Config{
		Scheme:                     "https",
		HTTPProtocolVersions:       []negotiate.Protocol{negotiate.ProtocolH2, negotiate.ProtocolHTTP1},
		RequestTimeout:             30 * time.Second,
		GracefulShutdownTimeout:    10 * time.Second,
		WebSocketCloseFrameTimeout: 2 * time.Second,
		Pool:                       pool.DefaultConfig(),
	}
}

// Validate checks Config with go-playground/validator, the same pattern
// pool.Config.Validate and httpcli/options.go's Options.Validate use.
func (c Config) Validate() liberr.Error {
	e := rherr.ErrRequestParamsInvalid.Error(nil)

	if err := libval.New().Struct(c); err != nil {
		if er, ok := err.(*libval.InvalidValidationError); ok {
			e.Add(er)
		} else if ve, ok := err.(libval.ValidationErrors); ok {
			for _, fe := range ve {
				//nolint #goerr113
				e.Add(fmt.Errorf("endpoint config field '%s' fails constraint '%s'", fe.Namespace(), fe.ActualTag()))
			}
		} else {
			e.Add(err)
		}
	}

	if poolErr := c.Pool.Validate(); poolErr != nil {
		e.Add(poolErr)
	}

	for _, v := range c.HTTPProtocolVersions {
		if v != negotiate.ProtocolH2 && v != negotiate.ProtocolHTTP1 {
			//nolint #goerr113
			e.Add(fmt.Errorf("endpoint config field 'HTTPProtocolVersions' has unknown protocol %q", v))
		}
	}

	if !e.HasParent() {
		return nil
	}
	return e
}

// Authority implements spec.md §4.1's default-port rule: omit the port
// when (scheme=="https" && port==443) || (scheme=="http" && port==80).
// This is the corrected rule spec.md §9 flags against a buggy
// duplicated-guard implementation; see SPEC_FULL.md §7.
func Authority(scheme, host string, port int) string {
	omit := (scheme == "https" && port == 443) || (scheme == "http" && port == 80)
	if omit {
		return host
	}
	return host + ":" + strconv.Itoa(port)
}

// RequestBuilder accumulates a request's parameters with no I/O, per
// spec.md §4.1's "request(...) → RequestBuilder — pure, no I/O".
type RequestBuilder struct {
	method      string
	target      string
	authority   string
	headers     exchange.Headers
	body        body.Publisher
	ctx         context.Context
	timeout     time.Duration
	interceptor *intercept.Chain
}

// Header adds one header value, preserving insertion order for repeats.
func (b *RequestBuilder) Header(key, value string) *RequestBuilder {
	if b.headers == nil {
		b.headers = exchange.Headers{}
	}
	ck := canonicalHeaderKey(key)
	b.headers[ck] = append(b.headers[ck], value)
	return b
}

// Authority overrides the derived host:port authority for this request.
func (b *RequestBuilder) Authority(authority string) *RequestBuilder {
	b.authority = authority
	return b
}

// Body attaches a request body publisher.
func (b *RequestBuilder) Body(pub body.Publisher) *RequestBuilder {
	b.body = pub
	return b
}

// Context attaches an application context.Context, propagated as the
// exchange's cancellation/deadline source.
func (b *RequestBuilder) Context(ctx context.Context) *RequestBuilder {
	b.ctx = ctx
	return b
}

// Timeout overrides Config.RequestTimeout for this request only.
func (b *RequestBuilder) Timeout(d time.Duration) *RequestBuilder {
	b.timeout = d
	return b
}

// Intercept attaches the interceptor chain run before acquisition
// (spec.md §4.5).
func (b *RequestBuilder) Intercept(chain *intercept.Chain) *RequestBuilder {
	b.interceptor = chain
	return b
}

// WSBuilder accumulates a WebSocket upgrade request's parameters.
type WSBuilder struct {
	target       string
	headers      map[string][]string
	subprotocols []string
	ctx          context.Context
}

// Header adds one header value sent with the upgrade request.
func (w *WSBuilder) Header(key, value string) *WSBuilder {
	if w.headers == nil {
		w.headers = map[string][]string{}
	}
	w.headers[key] = append(w.headers[key], value)
	return w
}

// Subprotocols offers subprotocols, in preference order.
func (w *WSBuilder) Subprotocols(protocols ...string) *WSBuilder {
	w.subprotocols = protocols
	return w
}

// Context attaches an application context.Context bounding the handshake.
func (w *WSBuilder) Context(ctx context.Context) *WSBuilder {
	w.ctx = ctx
	return w
}

// Endpoint is the full contract of spec.md §4.1.
type Endpoint interface {
	// Request starts building a request. Pure: no I/O happens until Send.
	Request(method, target string) *RequestBuilder

	// Send acquires a connection and dispatches the request, returning once
	// the request has been framed onto the wire (or an interceptor has
	// short-circuited it). The returned Exchange reaches
	// StateCompletedOk/Failed/Cancelled asynchronously; its ResponseBody,
	// once set, is the response's cold single-subscription byte stream.
	Send(rb *RequestBuilder) (*exchange.Exchange, liberr.Error)

	// WebSocketRequest starts building a WebSocket upgrade request.
	WebSocketRequest(target string) *WSBuilder

	// SendWebSocket performs the upgrade handshake and returns the detached
	// duplex connection (spec.md §4.7). Unlike Send, a successful upgrade
	// never touches pool accounting again: the connection is no longer
	// reusable for pipelined HTTP exchanges.
	SendWebSocket(wb *WSBuilder) (websocket.Connection, liberr.Error)

	// LocalAddress/RemoteAddress report the most recently dialed
	// connection's endpoints, or ("", false) before any connection exists.
	LocalAddress() (string, bool)
	RemoteAddress() (string, bool)

	// ActiveRequests is the current count of in-flight exchanges across
	// every pooled connection.
	ActiveRequests() uint64

	// LoadFactor is pool.ConnectionPool.LoadFactor for this endpoint.
	LoadFactor() float32

	// Shutdown closes every connection immediately (spec.md §4.1's "hard"
	// shutdown). Idempotent.
	Shutdown() liberr.Error

	// ShutdownGracefully drains in-flight exchanges up to
	// Config.GracefulShutdownTimeout, then closes every connection
	// (spec.md §4.1's "soft" shutdown). Idempotent: repeated calls observe
	// the same completion (spec.md §8).
	ShutdownGracefully(ctx context.Context) liberr.Error
}
