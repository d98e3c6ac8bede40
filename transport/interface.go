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

// Package transport defines the collaborator contract spec.md §6 places out
// of scope for the core ("TLS, TCP transport, buffer allocators — provided
// by an underlying transport layer") and ships a default net.Dial-based
// implementation so the module is runnable standalone, the way
// httpcli/network.go enumerates transport kinds (tcp/udp/unix) for the
// teacher's own dialer wiring.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	libtls "github.com/nabbar/golib/certificates"
)

// Network identifies the socket family used to reach an endpoint. Mirrors
// httpcli.Network (tcp/udp/unix) without udp; the core only ever dials tcp,
// and unix is kept for a transport implementation that wants to reuse the
// same enum for non-HTTP collaborators (e.g. a unix-socket reverse proxy
// sidecar).
type Network uint8

const (
	NetworkTCP Network = iota
	NetworkUnix
)

func (n Network) String() string {
	if n == NetworkUnix {
		return "unix"
	}
	return "tcp"
}

// Conn is the byte-stream handle returned by Connect. It is either a plain
// net.Conn (cleartext) or a *tls.Conn (after the TLS handshake completed and
// ALPN was negotiated, if applicable).
type Conn interface {
	net.Conn

	// ConnectionState reports the negotiated TLS state. ok is false for a
	// cleartext connection.
	ConnectionState() (tls.ConnectionState, bool)
}

// DialOptions carries everything transport.Connect needs to resolve and dial
// one endpoint. ForceAddr/LocalAddr mirror httpcli/options.go's OptionForceIP.
// There is no proxy option: connections are always dialed directly.
type DialOptions struct {
	Network    Network
	Host       string
	Port       int
	ForceAddr  string // dial this host:port instead of Host:Port, keep SNI/Host as-is
	LocalAddr  string // bind outbound connections to this local address
	TLS        libtls.TLSConfig
	ALPN       []string // offered, in order; empty disables TLS ALPN negotiation
	DialTimeout time.Duration
}

// Transport is the collaborator contract consumed by pool.ConnectionPool: it
// knows how to open one live connection. Sendfile is a best-effort zero-copy
// path consumed by body.FileSink (spec.md §4.6); transports that cannot
// support it return ErrSendfileUnsupported() and protocol/http1 falls back
// to normal chunking.
type Transport interface {
	// Connect opens one connection. When opts.TLS is non-nil and enabled,
	// the TLS handshake is performed and ALPN negotiated before return.
	Connect(ctx context.Context, opts DialOptions) (Conn, error)

	// Sendfile copies length bytes starting at offset from the given file
	// descriptor directly onto conn using the OS sendfile syscall, when
	// available. Returns errSendfileUnsupported if the platform/connection
	// combination does not support it.
	Sendfile(conn Conn, fd uintptr, offset int64, length int64) (int64, error)
}
