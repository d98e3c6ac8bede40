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

// Package websocket implements the HTTP/1.1 upgrade handshake and the
// post-upgrade frame/message duplex (spec.md §4.7): once upgraded, a
// connection is detached from pool accounting entirely (it is no longer a
// pipelined HTTP/1.1 connection the pool can reuse for another exchange)
// and becomes a long-lived bidirectional message stream.
//
// Inbound and Outbound are deliberately separate, asymmetrically-shaped
// interfaces rather than one symmetric duplex type: Inbound mirrors the
// single-subscription contract the rest of this module uses for streams
// (body.Publisher/Subscription) since there is exactly one read loop per
// connection and a second subscriber would silently race it for frames;
// Outbound has no such constraint; concurrent Send calls are simply
// serialized onto the wire; spec.md §4.7's "mutually-exclusive Inbound/
// Outbound subscription modes" is read here as Inbound alone being the
// single-subscription side, not as Inbound and Outbound being unusable
// together (a websocket connection is a duplex by definition, so forbidding
// concurrent use of both directions would defeat the point).
package websocket

import (
	"context"
	"time"

	"github.com/gobwas/ws"
)

// MessageType distinguishes WebSocket text and binary frames/messages.
type MessageType int

const (
	MessageText MessageType = iota
	MessageBinary
)

// Message is one fully reassembled WebSocket message (fragmentation, if
// any, has already been collapsed by the time it reaches the caller).
type Message struct {
	Type MessageType
	Data []byte
}

// Inbound is the single-subscription handle on received messages.
// Next blocks until a message arrives, the connection closes (io.EOF), or
// ctx is done. Cancel stops further delivery; it does not close the
// underlying connection, since Outbound sends may still be in flight.
type Inbound interface {
	Next(ctx context.Context) (Message, error)
	Cancel()

	// Messages returns a reduced-surface view of this same subscription for
	// callers that only ever expect one message type and would rather fail
	// fast on a mismatch than type-switch on every Message themselves.
	Messages() MessageReader
}

// MessageReader is SendText/SendBinary's inbound mirror: ReducedText and
// ReducedBinary block for the next message and fail with
// rherr.ErrWebSocketUnexpectedMessageType if its type doesn't match, instead
// of making every caller type-switch on Message.
type MessageReader interface {
	ReducedText(ctx context.Context) (string, error)
	ReducedBinary(ctx context.Context) ([]byte, error)
}

// Outbound sends messages on an upgraded connection. Safe for concurrent
// use: writes are serialized onto the wire.
type Outbound interface {
	Send(ctx context.Context, msg Message) error
}

// Connection is one upgraded WebSocket connection.
type Connection interface {
	// Inbound returns the single Inbound subscription for this connection.
	// A second call returns rherr.ErrWebSocketAlreadySubscribed.
	Inbound() (Inbound, error)

	// Outbound returns the send side. Always available, not subscription-
	// gated.
	Outbound() Outbound

	// Subprotocol reports the subprotocol the server selected during the
	// handshake, or "" if none was offered or selected.
	Subprotocol() string

	// Close sends a close frame, waits up to the handshake's configured
	// close-frame timeout for the peer's own close frame, then tears the
	// connection down unconditionally. Idempotent.
	Close(code ws.StatusCode, reason string) error

	// Closed is closed once the connection has fully torn down, by either
	// side.
	Closed() <-chan struct{}
}

// UpgradeOptions carries everything the handshake needs.
type UpgradeOptions struct {
	Host              string
	Path              string
	Headers           map[string][]string
	Subprotocols      []string // offered, in preference order
	CloseFrameTimeout time.Duration
}

// SendText is a reduced-surface helper for the common case of sending a
// single UTF-8 text message.
func SendText(ctx context.Context, o Outbound, s string) error {
	return o.Send(ctx, Message{Type: MessageText, Data: []byte(s)})
}

// SendBinary is a reduced-surface helper for sending a single binary
// message.
func SendBinary(ctx context.Context, o Outbound, b []byte) error {
	return o.Send(ctx, Message{Type: MessageBinary, Data: b})
}
