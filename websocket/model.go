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
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/nabbar/rhttpclient/internal/timerwheel"
	"github.com/nabbar/rhttpclient/rherr"
	"github.com/nabbar/rhttpclient/transport"
)

// closeWheel schedules every connection's ws_inbound_close_frame_timeout
// wait (spec.md §4.7): one shared timer wheel rather than one
// runtime-managed time.Timer per upgraded connection, started on first use.
var (
	closeWheelOnce sync.Once
	closeWheel     *timerwheel.Wheel
)

func getCloseWheel() *timerwheel.Wheel {
	closeWheelOnce.Do(func() {
		closeWheel = timerwheel.New(50*time.Millisecond, 1024)
		closeWheel.Start()
	})
	return closeWheel
}

type conn struct {
	raw transport.Conn

	writeMu sync.Mutex

	inboundUsed      int32
	inboundCancelled int32
	ch               chan Message
	errCh            chan error

	closeOnce sync.Once
	closed    chan struct{}

	protocol          string
	closeFrameTimeout time.Duration
}

// Upgrade performs the client-side WebSocket handshake over an
// already-connected transport.Conn (dialing and TLS are the pool/transport
// layer's job, not this package's — spec.md §4.7 only covers the upgrade
// and the post-upgrade duplex) and, on success, starts the connection's
// single read loop.
func Upgrade(raw transport.Conn, opts UpgradeOptions) (Connection, error) {
	path := opts.Path
	if path == "" {
		path = "/"
	}
	u := &url.URL{Scheme: "ws", Host: opts.Host, Path: path}

	d := ws.Dialer{Protocols: opts.Subprotocols}
	if len(opts.Headers) > 0 {
		d.Header = ws.HandshakeHeaderHTTP(http.Header(opts.Headers))
	}

	_, hs, err := d.Upgrade(raw, u)
	if err != nil {
		return nil, rherr.ErrWebSocketHandshake.Error(err)
	}

	// Optional subprotocol is echo-or-fail (spec.md §4.7): if the client
	// offered any, the server must select one of them, not invent its own.
	if len(opts.Subprotocols) > 0 && !contains(opts.Subprotocols, hs.Protocol) {
		return nil, rherr.ErrWebSocketHandshake.Error(fmt.Errorf("server selected subprotocol %q, not one of the offered protocols", hs.Protocol))
	}

	c := &conn{
		raw:               raw,
		ch:                make(chan Message, 1),
		errCh:             make(chan error, 1),
		closed:            make(chan struct{}),
		protocol:          hs.Protocol,
		closeFrameTimeout: opts.CloseFrameTimeout,
	}
	go c.pump()
	return c, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (c *conn) Subprotocol() string { return c.protocol }

func (c *conn) Closed() <-chan struct{} { return c.closed }

func (c *conn) Inbound() (Inbound, error) {
	if !atomic.CompareAndSwapInt32(&c.inboundUsed, 0, 1) {
		return nil, rherr.ErrWebSocketAlreadySubscribed.Error(nil)
	}
	return c, nil
}

func (c *conn) Outbound() Outbound { return c }

// pump is the connection's single read loop: it reads and reassembles one
// message per wsutil.NextReader call, discards the payload of PING/PONG
// control frames without answering them, and exits on the peer's close
// frame or a read error.
func (c *conn) pump() {
	defer func() {
		close(c.ch)
		close(c.closed)
	}()

	for {
		header, r, err := wsutil.NextReader(c.raw, ws.StateClientSide)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case c.errCh <- err:
				default:
				}
			}
			return
		}

		if header.OpCode.IsControl() {
			if header.OpCode == ws.OpClose {
				return
			}
			_, _ = io.Copy(io.Discard, r)
			continue
		}

		data, err := io.ReadAll(r)
		if err != nil {
			select {
			case c.errCh <- err:
			default:
			}
			return
		}

		if atomic.LoadInt32(&c.inboundCancelled) == 1 {
			continue
		}

		mt := MessageText
		if header.OpCode == ws.OpBinary {
			mt = MessageBinary
		}
		c.ch <- Message{Type: mt, Data: data}
	}
}

func (c *conn) Next(ctx context.Context) (Message, error) {
	select {
	case m, ok := <-c.ch:
		if !ok {
			select {
			case err := <-c.errCh:
				return Message{}, err
			default:
				return Message{}, io.EOF
			}
		}
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *conn) Cancel() {
	atomic.StoreInt32(&c.inboundCancelled, 1)
}

func (c *conn) Messages() MessageReader { return messageReader{in: c} }

// messageReader is a thin wrapper, not a fragmentation mechanism:
// wsutil.NextReader (in pump, above) already reassembles fragmented frames
// into one Message before it ever reaches c.ch, so ReducedText/ReducedBinary
// only need to check the already-resolved MessageType.
type messageReader struct{ in Inbound }

func (m messageReader) ReducedText(ctx context.Context) (string, error) {
	msg, err := m.in.Next(ctx)
	if err != nil {
		return "", err
	}
	if msg.Type != MessageText {
		return "", rherr.ErrWebSocketUnexpectedMessageType.Error(nil)
	}
	return string(msg.Data), nil
}

func (m messageReader) ReducedBinary(ctx context.Context) ([]byte, error) {
	msg, err := m.in.Next(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Type != MessageBinary {
		return nil, rherr.ErrWebSocketUnexpectedMessageType.Error(nil)
	}
	return msg.Data, nil
}

func (c *conn) Send(ctx context.Context, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	op := ws.OpText
	if msg.Type == MessageBinary {
		op = ws.OpBinary
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.raw, op, msg.Data)
}

func (c *conn) Close(code ws.StatusCode, reason string) error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = wsutil.WriteClientMessage(c.raw, ws.OpClose, ws.NewCloseFrameBody(code, reason))
		c.writeMu.Unlock()

		timeout := c.closeFrameTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		select {
		case <-c.closed:
		case <-getCloseWheel().After(timeout):
		}
		_ = c.raw.Close()
	})
	return nil
}
