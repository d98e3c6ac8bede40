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
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"

	xhttp2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/nabbar/rhttpclient/exchange"
)

type pipeConn struct {
	net.Conn
}

func (p *pipeConn) ConnectionState() (tls.ConnectionState, bool) { return tls.ConnectionState{}, false }

// fakeServer speaks just enough HTTP/2 to answer one request with a fixed
// 200 response and no body, driven by the same Framer/hpack machinery the
// client uses.
func fakeServer(t *testing.T, conn net.Conn) {
	preface := make([]byte, len(xhttp2.ClientPreface))
	if _, err := io.ReadFull(conn, preface); err != nil {
		t.Errorf("fakeServer: read preface: %v", err)
		return
	}

	fr := xhttp2.NewFramer(conn, conn)
	for {
		f, err := fr.ReadFrame()
		if err != nil {
			return
		}
		switch v := f.(type) {
		case *xhttp2.SettingsFrame:
			if v.IsAck() {
				continue
			}
			_ = fr.WriteSettingsAck()
		case *xhttp2.HeadersFrame:
			var buf []byte
			enc := hpack.NewEncoder(&sliceWriter{buf: &buf})
			_ = enc.WriteField(hpack.HeaderField{Name: ":status", Value: "200"})
			_ = enc.WriteField(hpack.HeaderField{Name: "content-length", Value: "0"})
			_ = fr.WriteHeaders(xhttp2.HeadersFrameParam{
				StreamID:      v.StreamID,
				BlockFragment: buf,
				EndStream:     true,
				EndHeaders:    true,
			})
			return
		}
	}
}

func TestDispatchCompletesOnHeadersOnlyResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go fakeServer(t, server)

	c, err := New(&pipeConn{client}, 10, "https")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	e := exchange.New(exchange.RequestHeaders{
		Method:  "GET",
		Path:    "/a",
		Headers: exchange.Headers{"Host": {"example.test"}},
	}, nil, time.Second)
	e.Transition(exchange.StateAcquiring)

	if err := c.Dispatch(e); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for e.State() != exchange.StateCompletedOk {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for completion, state=%v", e.State())
		case <-time.After(time.Millisecond):
		}
	}
	if e.Response.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", e.Response.StatusCode)
	}
}

func TestCancelStreamWritesRSTAndRemovesFromTable(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	rst := make(chan xhttp2.ErrCode, 1)
	go func() {
		preface := make([]byte, len(xhttp2.ClientPreface))
		_, _ = io.ReadFull(server, preface)
		fr := xhttp2.NewFramer(server, server)
		for {
			f, err := fr.ReadFrame()
			if err != nil {
				return
			}
			if r, ok := f.(*xhttp2.RSTStreamFrame); ok {
				select {
				case rst <- r.ErrCode:
				default:
				}
			}
		}
	}()

	c, err := New(&pipeConn{client}, 10, "https")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	e := exchange.New(exchange.RequestHeaders{
		Method:  "GET",
		Path:    "/b",
		Headers: exchange.Headers{"Host": {"example.test"}},
	}, nil, time.Second)
	e.Transition(exchange.StateAcquiring)

	if err := c.Dispatch(e); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	e.Cancel(nil)

	deadline := time.After(2 * time.Second)
	for {
		c.streamsMu.Lock()
		n := len(c.streams)
		c.streamsMu.Unlock()
		if n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for stream table to drain")
		case <-time.After(time.Millisecond):
		}
	}

	select {
	case code := <-rst:
		if code != xhttp2.ErrCodeCancel {
			t.Fatalf("expected RST_STREAM with CANCEL, got %v", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received RST_STREAM")
	}
}
