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

// Package negotiate decides which wire protocol a fresh connection speaks
// (spec.md §4.3).
//
// Over TLS, the configured protocol versions are offered as ALPN protocol
// IDs, in order; the server's choice wins. A server that selects none (no
// ALPN extension in its reply, or a value outside the offered set) fails
// negotiation with rherr.ErrProtocolNegotiationFailed rather than silently
// falling back to HTTP/1.1 — ALPN is the only protocol signal TLS gives,
// so an unreadable signal cannot be treated as a choice.
//
// Over cleartext, the configured versions decide the strategy: HTTP/1.1
// alone uses it directly; HTTP/2 alone uses prior-knowledge HTTP/2 (RFC
// 7540 §3.4, no Upgrade round trip); both configured attempts the H2C
// upgrade handshake (RFC 7540 §3.2) with a connection-priming probe
// request carrying `Connection: Upgrade, HTTP2-Settings` and an
// `Upgrade: h2c` header, falling back to HTTP/1.1 whenever the server
// answers anything other than 101 Switching Protocols.
package negotiate

import (
	"context"

	"github.com/nabbar/rhttpclient/transport"
)

// Protocol is the outcome of negotiation. Its literal values double as the
// ALPN protocol-ID strings RFC 7301 registers for HTTP, so a configured
// []Protocol list converts to an ALPN offer list with no translation table.
type Protocol string

const (
	ProtocolHTTP1 Protocol = "http/1.1"
	ProtocolH2    Protocol = "h2"
)

// Result pairs the negotiated protocol with the connection it applies to.
// For a successful H2C upgrade, Conn is already past the 101 Switching
// Protocols response and its priming probe: the caller can hand it straight
// to protocol/http2 without re-reading anything off the wire.
type Result struct {
	Protocol Protocol
	Conn     transport.Conn
}

// Negotiator opens one connection and decides its protocol.
type Negotiator interface {
	Negotiate(ctx context.Context, opts transport.DialOptions) (Result, error)
}
