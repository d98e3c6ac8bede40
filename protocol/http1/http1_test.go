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
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nabbar/rhttpclient/exchange"
)

type pipeConn struct {
	net.Conn
}

func (p *pipeConn) ConnectionState() (tls.ConnectionState, bool) { return tls.ConnectionState{}, false }

func TestDispatchMatchesResponseByFIFO(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := New(&pipeConn{client}, 1, nil)
	defer c.Close()

	go func() {
		br := bufio.NewReader(server)
		for i := 0; i < 2; i++ {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			_ = line
			for {
				h, err := br.ReadString('\n')
				if err != nil || h == "\r\n" {
					break
				}
			}
			_, _ = io.WriteString(server, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
		}
	}()

	e1 := exchange.New(exchange.RequestHeaders{Method: "GET", Path: "/a", Headers: exchange.Headers{"Content-Length": {"0"}}}, nil, time.Second)
	e1.Transition(exchange.StateAcquiring)
	if err := c.Dispatch(e1); err != nil {
		t.Fatalf("dispatch 1: %v", err)
	}

	e2 := exchange.New(exchange.RequestHeaders{Method: "GET", Path: "/b", Headers: exchange.Headers{"Content-Length": {"0"}}}, nil, time.Second)
	e2.Transition(exchange.StateAcquiring)
	if err := c.Dispatch(e2); err != nil {
		t.Fatalf("dispatch 2: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for e1.State() != exchange.StateCompletedOk {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for e1 to complete, state=%v", e1.State())
		case <-time.After(time.Millisecond):
		}
	}
	if e1.Response.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", e1.Response.StatusCode)
	}
}
