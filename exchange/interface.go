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

// Package exchange implements the request/response lifecycle state machine
// shared by protocol/http1 and protocol/http2 (spec.md §4.4): one state
// machine per exchange, guarded by its own mutex because the dispatching
// goroutine, the connection's read loop and the application all drive it.
package exchange

import (
	"net/textproto"
	"sync"
	"time"

	liberr "github.com/nabbar/golib/errors"

	"github.com/nabbar/rhttpclient/body"
)

// State is one node of spec.md §4.4's state machine.
type State int32

const (
	StatePending State = iota
	StateAcquiring
	StateHeadersSending
	StateBodyStreaming
	StateResponseHeadersPending
	StateResponseBodyStreaming
	StateCompletedOk
	StateCompletedFailed
	StateCompletedCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAcquiring:
		return "acquiring"
	case StateHeadersSending:
		return "headers_sending"
	case StateBodyStreaming:
		return "body_streaming"
	case StateResponseHeadersPending:
		return "response_headers_pending"
	case StateResponseBodyStreaming:
		return "response_body_streaming"
	case StateCompletedOk:
		return "completed_ok"
	case StateCompletedFailed:
		return "completed_failed"
	case StateCompletedCancelled:
		return "completed_cancelled"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateCompletedOk || s == StateCompletedFailed || s == StateCompletedCancelled
}

// Headers is a minimal ordered multimap, avoiding a net/http dependency in
// the shared state machine (protocol/http1 and protocol/http2 each adapt
// their own wire framing to and from it).
type Headers map[string][]string

// Get returns the first value for key, canonicalizing the key the way
// net/textproto.MIMEHeader does, or "" if absent.
func (h Headers) Get(key string) string {
	if h == nil {
		return ""
	}
	vs := h[textproto.CanonicalMIMEHeaderKey(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// RequestHeaders carries everything framed before the request body.
type RequestHeaders struct {
	Method  string
	Path    string
	Headers Headers
}

// ResponseHeaders carries everything framed before the response body.
type ResponseHeaders struct {
	StatusCode int
	Headers    Headers
}

// Exchange is one request/response cycle. Its state methods take an
// internal mutex, so transitions may come from the goroutine calling
// Dispatch, the connection's read loop and the application's Cancel; the
// exported Request/Response fields are not guarded by it.
type Exchange struct {
	mu sync.Mutex

	state     State
	timeout   time.Duration
	startedAt time.Time

	Request  RequestHeaders
	RequestBody  body.Publisher
	Response ResponseHeaders
	ResponseBody body.Subscription

	err liberr.Error

	onCancel  func()
	onRelease func(State)
}

// New creates a Pending exchange. timeout, if non-zero, sets the deadline
// Deadline reports, measured from Acquiring. The exchange does not fail or
// cancel itself when that deadline passes.
func New(req RequestHeaders, reqBody body.Publisher, timeout time.Duration) *Exchange {
	return &Exchange{
		state:   StatePending,
		Request: req,
		RequestBody: reqBody,
		timeout: timeout,
	}
}

func (e *Exchange) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Transition moves the exchange to next. Once the exchange is terminal the
// call is ignored; the direction of a non-terminal transition is not
// checked.
func (e *Exchange) Transition(next State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Terminal() {
		return
	}
	if e.state == StatePending && next == StateAcquiring {
		e.startedAt = time.Now()
	}
	e.state = next
}

// Deadline reports when request_timeout expires, measured from Acquiring.
// The zero Time means no deadline.
func (e *Exchange) Deadline() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timeout <= 0 || e.startedAt.IsZero() {
		return time.Time{}
	}
	return e.startedAt.Add(e.timeout)
}

// SetReleaseFunc registers the action that returns this exchange's reserved
// pool capacity once it reaches a terminal state (spec.md §3: "Exchange ...
// holds a reference to the connection's accountancy, to decrement in-flight
// on completion"). Called exactly once, from whichever of Cancel/Fail/
// Complete first observes the exchange still pending.
func (e *Exchange) SetReleaseFunc(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRelease = fn
}

// takeRelease clears and returns onRelease. Caller must hold e.mu and invoke
// the result, if non-nil, only after unlocking.
func (e *Exchange) takeRelease() func(State) {
	fn := e.onRelease
	e.onRelease = nil
	return fn
}

// SetCancelFunc registers the protocol-specific action that aborts the
// exchange mid-flight: an HTTP/2 RST_STREAM(CANCEL) or an HTTP/1.1
// connection close (spec.md §4.4 — pipelining cannot safely continue after
// an abandoned request).
func (e *Exchange) SetCancelFunc(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCancel = fn
}

// Cancel aborts the exchange from BodyStreaming or ResponseBodyStreaming
// onward, or drops it with no wire effect if it has not reached
// HeadersSending yet.
func (e *Exchange) Cancel(reason liberr.Error) {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return
	}
	priorToWire := e.state == StatePending || e.state == StateAcquiring
	cancel := e.onCancel
	release := e.takeRelease()
	e.err = reason
	e.state = StateCompletedCancelled
	e.mu.Unlock()

	if !priorToWire && cancel != nil {
		cancel()
	}
	if release != nil {
		release(StateCompletedCancelled)
	}
}

// Fail completes the exchange with a terminal error.
func (e *Exchange) Fail(err liberr.Error) {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return
	}
	release := e.takeRelease()
	e.err = err
	e.state = StateCompletedFailed
	e.mu.Unlock()

	if release != nil {
		release(StateCompletedFailed)
	}
}

// Complete marks the exchange as having received a full response.
func (e *Exchange) Complete(resp ResponseHeaders, respBody body.Subscription) {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return
	}
	release := e.takeRelease()
	e.Response = resp
	e.ResponseBody = respBody
	e.state = StateCompletedOk
	e.mu.Unlock()

	if release != nil {
		release(StateCompletedOk)
	}
}

// Err returns the terminal error, if any.
func (e *Exchange) Err() liberr.Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}
