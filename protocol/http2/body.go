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
	"context"
	"io"
	"sync/atomic"

	"github.com/nabbar/rhttpclient/body"
)

// streamBody is a body.Subscription fed by the connection's single read
// loop as DATA frames arrive, rather than pulled from an io.Reader the way
// body.FromReader's subscription is. It implements the same cancellation
// contract: Cancel stops further delivery and releases anything already
// buffered, and is safe to call from the consuming goroutine while the read
// loop is still pushing.
type streamBody struct {
	ch     chan *body.Chunk
	errCh  chan error
	cancel chan struct{}

	cancelled int32
	finished  int32
}

func newStreamBody() *streamBody {
	return &streamBody{
		ch:     make(chan *body.Chunk, 1),
		errCh:  make(chan error, 1),
		cancel: make(chan struct{}),
	}
}

// push hands one DATA frame's payload to the subscriber. It returns false
// once the subscription has been cancelled, telling the read loop to stop
// delivering (it still must drain the stream table entry via removeStream).
func (s *streamBody) push(c *body.Chunk) bool {
	select {
	case s.ch <- c:
		return true
	case <-s.cancel:
		_ = c.Release()
		return false
	}
}

// finish closes the subscription's channel. err, if non-nil and not
// io.EOF, is surfaced to the next Next call instead of io.EOF.
func (s *streamBody) finish(err error) {
	if !atomic.CompareAndSwapInt32(&s.finished, 0, 1) {
		return
	}
	if err != nil && err != io.EOF {
		s.errCh <- err
	}
	close(s.ch)
}

func (s *streamBody) Next(ctx context.Context) (*body.Chunk, error) {
	select {
	case c, ok := <-s.ch:
		if !ok {
			select {
			case err := <-s.errCh:
				return nil, err
			default:
				return nil, io.EOF
			}
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *streamBody) Cancel() {
	if atomic.CompareAndSwapInt32(&s.cancelled, 0, 1) {
		close(s.cancel)
		for c := range s.ch {
			_ = c.Release()
		}
	}
}
