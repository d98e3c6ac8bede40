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

package rherr

import (
	"fmt"

	liberr "github.com/nabbar/golib/errors"
)

// Error codes for the connection pool (spec.md §4.2, §7).
const (
	ErrConnectionPoolExhausted liberr.CodeError = iota + MinPkgPool
	ErrConnectionAcquisitionTimeout
	ErrTransportConnectFailed
	ErrIdleTimeout
	ErrShutdown
)

// Error codes for protocol negotiation (spec.md §4.3, §7).
const (
	ErrProtocolNegotiationFailed liberr.CodeError = iota + MinPkgNegotiate
)

// Error codes shared by the exchange state machine (spec.md §4.4, §7).
const (
	ErrRequestTimeout liberr.CodeError = iota + MinPkgExchange
	ErrCancelled
	ErrConnectionClosedPrematurely
	ErrHeadersInvalid
	ErrBodyInvalid
)

// Error codes specific to the HTTP/2 stream table (spec.md §4.4, §7).
const (
	ErrStreamReset liberr.CodeError = iota + MinPkgHTTP2
)

// Error codes for the WebSocket upgrade path (spec.md §4.7, §7).
const (
	ErrWebSocketHandshake liberr.CodeError = iota + MinPkgWebSocket
	ErrWebSocketAlreadySubscribed
	ErrWebSocketClosed
	ErrWebSocketUnexpectedMessageType
)

// Error codes for the body sequencer and zero-copy sink (spec.md §4.6).
const (
	ErrBodyAlreadySubscribed liberr.CodeError = iota + MinPkgBody
	ErrBodyReleased
	ErrCompressionUnsupported
)

// Error codes for the endpoint / request builder (spec.md §4.1, §3).
const (
	ErrRequestParamsInvalid liberr.CodeError = iota + MinPkgEndpoint
	ErrEndpointClosed
)

func init() {
	if liberr.ExistInMapMessage(ErrConnectionPoolExhausted) {
		panic(fmt.Errorf("error code collision with package rhttpclient/rherr (pool band)"))
	}

	liberr.RegisterIdFctMessage(ErrConnectionPoolExhausted, poolMessage)
	liberr.RegisterIdFctMessage(ErrProtocolNegotiationFailed, negotiateMessage)
	liberr.RegisterIdFctMessage(ErrRequestTimeout, exchangeMessage)
	liberr.RegisterIdFctMessage(ErrStreamReset, http2Message)
	liberr.RegisterIdFctMessage(ErrWebSocketHandshake, websocketMessage)
	liberr.RegisterIdFctMessage(ErrBodyAlreadySubscribed, bodyMessage)
	liberr.RegisterIdFctMessage(ErrRequestParamsInvalid, endpointMessage)
}

func poolMessage(code liberr.CodeError) string {
	switch code {
	case ErrConnectionPoolExhausted:
		return "connection pool exhausted: wait queue full"
	case ErrConnectionAcquisitionTimeout:
		return "timed out waiting for a pooled connection"
	case ErrTransportConnectFailed:
		return "transport connect failed"
	case ErrIdleTimeout:
		return "connection closed: idle timeout exceeded"
	case ErrShutdown:
		return "endpoint is shutting down"
	}
	return liberr.NullMessage
}

func negotiateMessage(code liberr.CodeError) string {
	switch code {
	case ErrProtocolNegotiationFailed:
		return "protocol negotiation failed (ALPN or H2C upgrade refused)"
	}
	return liberr.NullMessage
}

func exchangeMessage(code liberr.CodeError) string {
	switch code {
	case ErrRequestTimeout:
		return "request timeout exceeded"
	case ErrCancelled:
		return "exchange cancelled by local subscriber"
	case ErrConnectionClosedPrematurely:
		return "connection closed prematurely mid-exchange"
	case ErrHeadersInvalid:
		return "invalid request or response headers"
	case ErrBodyInvalid:
		return "invalid request or response body framing"
	}
	return liberr.NullMessage
}

func http2Message(code liberr.CodeError) string {
	switch code {
	case ErrStreamReset:
		return "http/2 stream reset"
	}
	return liberr.NullMessage
}

func websocketMessage(code liberr.CodeError) string {
	switch code {
	case ErrWebSocketHandshake:
		return "websocket handshake failed"
	case ErrWebSocketAlreadySubscribed:
		return "websocket inbound already subscribed: messages are single-subscription"
	case ErrWebSocketClosed:
		return "websocket connection closed"
	case ErrWebSocketUnexpectedMessageType:
		return "websocket message did not match the requested reduced type"
	}
	return liberr.NullMessage
}

func bodyMessage(code liberr.CodeError) string {
	switch code {
	case ErrBodyAlreadySubscribed:
		return "body publisher already subscribed: bodies are single-subscription"
	case ErrBodyReleased:
		return "buffer already released: use-after-release"
	case ErrCompressionUnsupported:
		return "response advertises an unsupported content-encoding"
	}
	return liberr.NullMessage
}

func endpointMessage(code liberr.CodeError) string {
	switch code {
	case ErrRequestParamsInvalid:
		return "request parameters invalid"
	case ErrEndpointClosed:
		return "endpoint already shut down"
	}
	return liberr.NullMessage
}
