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
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/nabbar/rhttpclient/exchange"
	"github.com/nabbar/rhttpclient/exchange/intercept"
	"github.com/nabbar/rhttpclient/negotiate"
	"github.com/nabbar/rhttpclient/transport"
)

func TestAuthorityOmitsDefaultPortOnly(t *testing.T) {
	cases := []struct {
		scheme string
		port   int
		want   string
	}{
		{"https", 443, "example.test"},
		{"http", 80, "example.test"},
		{"https", 8443, "example.test:8443"},
		{"http", 8080, "example.test:8080"},
		{"https", 80, "example.test:80"},
	}
	for _, c := range cases {
		got := Authority(c.scheme, "example.test", c.port)
		if got != c.want {
			t.Fatalf("Authority(%q,%q,%d) = %q, want %q", c.scheme, "example.test", c.port, got, c.want)
		}
	}
}

type pipeConn struct {
	net.Conn
}

func (p *pipeConn) ConnectionState() (tls.ConnectionState, bool) { return tls.ConnectionState{}, false }

// fakeTransport always dials the same pre-wired net.Pipe pair, handing the
// client half to the caller and running srv against the server half.
type fakeTransport struct {
	srv func(net.Conn)
}

func (f *fakeTransport) Connect(_ context.Context, _ transport.DialOptions) (transport.Conn, error) {
	client, server := net.Pipe()
	go f.srv(server)
	return &pipeConn{client}, nil
}

func (f *fakeTransport) Sendfile(transport.Conn, uintptr, int64, int64) (int64, error) {
	return 0, transport.ErrSendfileUnsupported()
}

type erroringTransport struct{}

func (erroringTransport) Connect(context.Context, transport.DialOptions) (transport.Conn, error) {
	return nil, fmt.Errorf("no network in this test")
}

func (erroringTransport) Sendfile(transport.Conn, uintptr, int64, int64) (int64, error) {
	return 0, transport.ErrSendfileUnsupported()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Scheme = "http"
	cfg.Host = "example.test"
	cfg.Port = 80
	// The fake servers these tests spin up only ever speak plain
	// HTTP/1.1; restrict negotiation so it never attempts an H2C upgrade
	// probe against them.
	cfg.HTTPProtocolVersions = []negotiate.Protocol{negotiate.ProtocolHTTP1}
	cfg.RequestTimeout = 2 * time.Second
	cfg.Pool.MaxSize = 1
	return cfg
}

func TestSendInterceptorShortCircuitSkipsAcquisition(t *testing.T) {
	ep, err := New(testConfig(), erroringTransport{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	chain := intercept.NewChain(intercept.InterceptorFunc(func(_ context.Context, in intercept.InterceptableExchange) (intercept.InterceptableExchange, bool, *intercept.SynthesizedResponse) {
		return in, false, &intercept.SynthesizedResponse{StatusCode: 200, Body: []byte("intercepted")}
	}))

	rb := ep.Request("GET", "/").Intercept(chain)
	ex, sendErr := ep.Send(rb)
	if sendErr != nil {
		t.Fatalf("Send: %v", sendErr)
	}
	if ex.State() != exchange.StateCompletedOk {
		t.Fatalf("expected StateCompletedOk, got %v", ex.State())
	}
	if ex.Response.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", ex.Response.StatusCode)
	}
	if ep.ActiveRequests() != 0 {
		t.Fatalf("interceptor short-circuit must not acquire a connection, got active=%d", ep.ActiveRequests())
	}

	chunk, nextErr := ex.ResponseBody.Next(context.Background())
	if nextErr != nil {
		t.Fatalf("ResponseBody.Next: %v", nextErr)
	}
	if string(chunk.Bytes()) != "intercepted" {
		t.Fatalf("expected body %q, got %q", "intercepted", chunk.Bytes())
	}
}

func TestSendDispatchesOverNegotiatedConnection(t *testing.T) {
	ft := &fakeTransport{srv: func(server net.Conn) {
		br := bufio.NewReader(server)
		if _, err := br.ReadString('\n'); err != nil {
			return
		}
		for {
			h, err := br.ReadString('\n')
			if err != nil || h == "\r\n" {
				break
			}
		}
		_, _ = io.WriteString(server, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	}}

	ep, err := New(testConfig(), ft)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ex, sendErr := ep.Send(ep.Request("GET", "/").Body(nil))
	if sendErr != nil {
		t.Fatalf("Send: %v", sendErr)
	}

	deadline := time.After(2 * time.Second)
	for ex.State() != exchange.StateCompletedOk {
		select {
		case <-deadline:
			t.Fatalf("timed out, state=%v", ex.State())
		case <-time.After(time.Millisecond):
		}
	}

	if ex.Response.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", ex.Response.StatusCode)
	}
	if got := ex.Request.Headers.Get("Host"); got != "example.test" {
		t.Fatalf("expected Host header %q, got %q", "example.test", got)
	}

	if err := ep.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := ep.Shutdown(); err != nil {
		t.Fatalf("second Shutdown must be idempotent: %v", err)
	}
}

func TestSendWebSocketUpgradesWithoutPoolAccounting(t *testing.T) {
	ft := &fakeTransport{srv: func(server net.Conn) {
		if _, err := ws.Upgrader{}.Upgrade(server); err != nil {
			return
		}
		_ = wsutil.WriteServerMessage(server, ws.OpText, []byte("hi"))
	}}

	ep, err := New(testConfig(), ft)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	conn, wsErr := ep.SendWebSocket(ep.WebSocketRequest("/ws"))
	if wsErr != nil {
		t.Fatalf("SendWebSocket: %v", wsErr)
	}
	if ep.ActiveRequests() != 0 {
		t.Fatalf("an upgraded websocket must not hold a pool slot, got active=%d", ep.ActiveRequests())
	}

	in, inErr := conn.Inbound()
	if inErr != nil {
		t.Fatalf("Inbound: %v", inErr)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, nextErr := in.Next(ctx)
	if nextErr != nil {
		t.Fatalf("Next: %v", nextErr)
	}
	if string(msg.Data) != "hi" {
		t.Fatalf("expected %q, got %q", "hi", msg.Data)
	}

	_ = conn.Close(ws.StatusNormalClosure, "")
}
