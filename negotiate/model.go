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

package negotiate

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/textproto"

	"github.com/nabbar/rhttpclient/rherr"
	"github.com/nabbar/rhttpclient/transport"
)

// negotiator implements Negotiator over one transport.Transport.
type negotiator struct {
	transport transport.Transport
	versions  []Protocol
}

// New builds a Negotiator. versions is the configured, preference-ordered
// protocol list (endpoint.Config.HTTPProtocolVersions): over TLS it becomes
// the ALPN offer; over cleartext it decides whether this endpoint speaks
// HTTP/1.1 only, HTTP/2 with prior knowledge only, or attempts the H2C
// upgrade when both are listed. An empty versions defaults to {h2, http/1.1}
// for TLS and {http/1.1} for cleartext, matching spec.md §4.3's "default:
// h2, then http/1.1" for the TLS path and the conservative choice of never
// assuming cleartext H2C unless asked for it.
func New(t transport.Transport, versions []Protocol) Negotiator {
	return &negotiator{transport: t, versions: versions}
}

func (n *negotiator) Negotiate(ctx context.Context, opts transport.DialOptions) (Result, error) {
	if opts.TLS != nil {
		return n.negotiateTLS(ctx, opts)
	}
	return n.negotiateCleartext(ctx, opts)
}

func (n *negotiator) negotiateTLS(ctx context.Context, opts transport.DialOptions) (Result, error) {
	versions := n.versions
	if len(versions) == 0 {
		versions = []Protocol{ProtocolH2, ProtocolHTTP1}
	}
	if len(opts.ALPN) == 0 {
		opts.ALPN = protocolsToALPN(versions)
	}

	conn, err := n.transport.Connect(ctx, opts)
	if err != nil {
		return Result{}, err
	}

	state, ok := conn.ConnectionState()
	if !ok || !containsProtocol(versions, Protocol(state.NegotiatedProtocol)) {
		_ = conn.Close()
		return Result{}, rherr.ErrProtocolNegotiationFailed.Error(
			fmt.Errorf("server selected ALPN protocol %q, not one of the offered %v", state.NegotiatedProtocol, opts.ALPN))
	}

	return Result{Protocol: Protocol(state.NegotiatedProtocol), Conn: conn}, nil
}

func (n *negotiator) negotiateCleartext(ctx context.Context, opts transport.DialOptions) (Result, error) {
	versions := n.versions
	if len(versions) == 0 {
		versions = []Protocol{ProtocolHTTP1}
	}

	conn, err := n.transport.Connect(ctx, opts)
	if err != nil {
		return Result{}, err
	}

	h2 := containsProtocol(versions, ProtocolH2)
	h1 := containsProtocol(versions, ProtocolHTTP1)

	switch {
	case h2 && h1:
		// Both configured: try the H2C upgrade round trip, fall back to
		// HTTP/1.1 on anything but 101 (spec.md §4.3).
		return n.upgradeH2C(conn, opts.Host)
	case h2:
		// Prior knowledge only (RFC 7540 §3.4): no Upgrade dance, the client
		// commits to HTTP/2 immediately. protocol/http2.New writes the
		// client connection preface and initial SETTINGS frame the first
		// time it takes ownership of conn.
		return Result{Protocol: ProtocolH2, Conn: conn}, nil
	default:
		return Result{Protocol: ProtocolHTTP1, Conn: conn}, nil
	}
}

// upgradeH2C performs the H2C upgrade round trip (RFC 7540 §3.2) using a
// priming OPTIONS probe: OPTIONS is safe and idempotent, so issuing one
// extra request purely to read the server's Upgrade decision has no
// observable side effect on the resource tree. If the server answers 101
// Switching Protocols, the connection continues as HTTP/2 with no further
// bytes to drain. Otherwise the probe's status line and headers are read,
// and its body is discarded when the response carries a Content-Length; a
// chunked probe body is not drained.
func (n *negotiator) upgradeH2C(conn transport.Conn, host string) (Result, error) {
	req := "OPTIONS * HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"Connection: Upgrade, HTTP2-Settings\r\n" +
		"Upgrade: h2c\r\n" +
		"HTTP2-Settings: " + base64.RawURLEncoding.EncodeToString(nil) + "\r\n" +
		"Content-Length: 0\r\n\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		_ = conn.Close()
		return Result{}, fmt.Errorf("negotiate: write h2c probe: %w", err)
	}

	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		_ = conn.Close()
		return Result{}, fmt.Errorf("negotiate: read h2c probe status: %w", err)
	}

	if isSwitchingProtocols(line) {
		tp := textproto.NewReader(br)
		if _, err := tp.ReadMIMEHeader(); err != nil {
			_ = conn.Close()
			return Result{}, fmt.Errorf("negotiate: read h2c switching-protocols headers: %w", err)
		}
		// br may still hold buffered bytes belonging to the HTTP/2 connection
		// preface response (SETTINGS frames the server sent immediately);
		// protocol/http2 reads its framer directly off conn, so drain br's
		// buffer back onto a wrapper the framer can read from first.
		return Result{Protocol: ProtocolH2, Conn: primedConn{Conn: conn, pending: br}}, nil
	}

	tp := textproto.NewReader(br)
	header, err := tp.ReadMIMEHeader()
	if err != nil {
		_ = conn.Close()
		return Result{}, fmt.Errorf("negotiate: read h2c probe headers: %w", err)
	}
	if cl := http.Header(header).Get("Content-Length"); cl != "" {
		if _, err := br.Discard(parseContentLength(cl)); err != nil {
			_ = conn.Close()
			return Result{}, fmt.Errorf("negotiate: drain h2c probe body: %w", err)
		}
	}

	return Result{Protocol: ProtocolHTTP1, Conn: primedConn{Conn: conn, pending: br}}, nil
}

func isSwitchingProtocols(statusLine string) bool {
	return len(statusLine) >= len("HTTP/1.1 101") && statusLine[9:12] == "101"
}

func parseContentLength(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func protocolsToALPN(versions []Protocol) []string {
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		out = append(out, string(v))
	}
	return out
}

func containsProtocol(versions []Protocol, p Protocol) bool {
	for _, v := range versions {
		if v == p {
			return true
		}
	}
	return false
}
