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
	"crypto/tls"
	"io"
	"net"
	"testing"

	libtls "github.com/nabbar/golib/certificates"

	"github.com/nabbar/rhttpclient/transport"
)

type pipeConn struct {
	net.Conn
	state  tls.ConnectionState
	hasTLS bool
}

func (p *pipeConn) ConnectionState() (tls.ConnectionState, bool) { return p.state, p.hasTLS }

type fakeTransport struct {
	srv    func(net.Conn)
	hasTLS bool
	alpn   string
}

func (f *fakeTransport) Connect(_ context.Context, _ transport.DialOptions) (transport.Conn, error) {
	client, server := net.Pipe()
	go f.srv(server)
	return &pipeConn{Conn: client, hasTLS: f.hasTLS, state: tls.ConnectionState{NegotiatedProtocol: f.alpn}}, nil
}

func (f *fakeTransport) Sendfile(transport.Conn, uintptr, int64, int64) (int64, error) {
	return 0, transport.ErrSendfileUnsupported()
}

func TestNegotiateTLSAcceptsServerALPNChoice(t *testing.T) {
	tr := &fakeTransport{hasTLS: true, alpn: "h2", srv: func(net.Conn) {}}
	n := New(tr, []Protocol{ProtocolH2, ProtocolHTTP1})

	res, err := n.Negotiate(context.Background(), transport.DialOptions{TLS: (&libtls.Config{}).New()})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if res.Protocol != ProtocolH2 {
		t.Fatalf("expected ProtocolH2, got %v", res.Protocol)
	}
}

func TestNegotiateTLSFailsWhenServerSelectsNothing(t *testing.T) {
	tr := &fakeTransport{hasTLS: true, alpn: "", srv: func(net.Conn) {}}
	n := New(tr, []Protocol{ProtocolH2, ProtocolHTTP1})

	_, err := n.Negotiate(context.Background(), transport.DialOptions{TLS: (&libtls.Config{}).New()})
	if err == nil {
		t.Fatalf("expected ProtocolNegotiationFailed, got nil")
	}
}

func TestNegotiateCleartextHTTP1OnlySkipsUpgrade(t *testing.T) {
	tr := &fakeTransport{srv: func(net.Conn) {}}
	n := New(tr, []Protocol{ProtocolHTTP1})

	res, err := n.Negotiate(context.Background(), transport.DialOptions{})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if res.Protocol != ProtocolHTTP1 {
		t.Fatalf("expected ProtocolHTTP1, got %v", res.Protocol)
	}
}

func TestNegotiateCleartextH2OnlyUsesPriorKnowledge(t *testing.T) {
	tr := &fakeTransport{srv: func(net.Conn) {}}
	n := New(tr, []Protocol{ProtocolH2})

	res, err := n.Negotiate(context.Background(), transport.DialOptions{})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if res.Protocol != ProtocolH2 {
		t.Fatalf("expected ProtocolH2, got %v", res.Protocol)
	}
}

func TestNegotiateCleartextBothConfiguredUpgradesOn101(t *testing.T) {
	tr := &fakeTransport{srv: func(server net.Conn) {
		br := bufio.NewReader(server)
		line, err := br.ReadString('\n')
		if err != nil || line == "" {
			return
		}
		for {
			h, err := br.ReadString('\n')
			if err != nil || h == "\r\n" {
				break
			}
		}
		_, _ = io.WriteString(server, "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: h2c\r\n\r\n")
	}}
	n := New(tr, []Protocol{ProtocolH2, ProtocolHTTP1})

	res, err := n.Negotiate(context.Background(), transport.DialOptions{Host: "example.test"})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if res.Protocol != ProtocolH2 {
		t.Fatalf("expected ProtocolH2 after 101, got %v", res.Protocol)
	}
}

func TestNegotiateCleartextBothConfiguredFallsBackOnNon101(t *testing.T) {
	tr := &fakeTransport{srv: func(server net.Conn) {
		br := bufio.NewReader(server)
		line, err := br.ReadString('\n')
		if err != nil || line == "" {
			return
		}
		for {
			h, err := br.ReadString('\n')
			if err != nil || h == "\r\n" {
				break
			}
		}
		_, _ = io.WriteString(server, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	}}
	n := New(tr, []Protocol{ProtocolH2, ProtocolHTTP1})

	res, err := n.Negotiate(context.Background(), transport.DialOptions{Host: "example.test"})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if res.Protocol != ProtocolHTTP1 {
		t.Fatalf("expected fallback to ProtocolHTTP1, got %v", res.Protocol)
	}
}
