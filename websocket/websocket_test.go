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

package websocket

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type pipeConn struct {
	net.Conn
}

func (p *pipeConn) ConnectionState() (tls.ConnectionState, bool) { return tls.ConnectionState{}, false }

func TestUpgradeAndReceiveMessage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		u := ws.Upgrader{}
		if _, err := u.Upgrade(server); err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		if err := wsutil.WriteServerMessage(server, ws.OpText, []byte("hello")); err != nil {
			t.Errorf("server write: %v", err)
		}
	}()

	c, err := Upgrade(&pipeConn{client}, UpgradeOptions{Host: "example.test", Path: "/ws"})
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	defer c.Close(ws.StatusNormalClosure, "")

	in, err := c.Inbound()
	if err != nil {
		t.Fatalf("Inbound: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := in.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.Type != MessageText || string(msg.Data) != "hello" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if _, err := c.Inbound(); err == nil {
		t.Fatalf("expected second Inbound() to fail (single-subscription)")
	}

	<-serverDone
}

func TestUpgradeReassemblesFragmentedMessage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		u := ws.Upgrader{}
		if _, err := u.Upgrade(server); err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}

		first := ws.Header{
			Fin:    false,
			OpCode: ws.OpText,
			Length: 5,
		}
		if err := ws.WriteHeader(server, first); err != nil {
			t.Errorf("server write fragment 1 header: %v", err)
			return
		}
		if _, err := server.Write([]byte("hello")); err != nil {
			t.Errorf("server write fragment 1 payload: %v", err)
			return
		}

		second := ws.Header{
			Fin:    true,
			OpCode: ws.OpContinuation,
			Length: 6,
		}
		if err := ws.WriteHeader(server, second); err != nil {
			t.Errorf("server write fragment 2 header: %v", err)
			return
		}
		if _, err := server.Write([]byte(" world")); err != nil {
			t.Errorf("server write fragment 2 payload: %v", err)
		}
	}()

	c, err := Upgrade(&pipeConn{client}, UpgradeOptions{Host: "example.test", Path: "/ws"})
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	defer c.Close(ws.StatusNormalClosure, "")

	in, err := c.Inbound()
	if err != nil {
		t.Fatalf("Inbound: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	text, err := in.Messages().ReducedText(ctx)
	if err != nil {
		t.Fatalf("ReducedText: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("expected reassembled message %q, got %q", "hello world", text)
	}

	<-serverDone
}
