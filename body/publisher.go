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

package body

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"

	"github.com/nabbar/rhttpclient/rherr"
)

// Subscription is the pull-driven handle a consumer holds on a Publisher
// after Subscribe. Next blocks until a chunk is available, the publisher is
// exhausted (io.EOF), the context is done, or the publisher errors.
//
// Cancellation is prompt (spec.md §5): once Cancel is observed by the
// publisher's producing goroutine, no further chunk is delivered, and any
// chunk already buffered but not yet handed to Next is released by the
// subscription itself.
type Subscription interface {
	Next(ctx context.Context) (*Chunk, error)
	Cancel()
}

// Publisher is a cold, single-subscription lazy sequence of byte chunks
// (spec.md §3 Request.body, Response.body; §9 "pull-driven, cancellable,
// single-subscription sequence of byte chunks with explicit demand
// signalling"). Subscribe must be called at most once; a second call
// returns rherr.ErrBodyAlreadySubscribed, matching §4.6's "single-
// subscription" contract for response bodies and the §9 replay-precondition
// for request bodies built independently of an endpoint.
type Publisher interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// demand is the size of the channel buffer used between the producing
// goroutine and the consumer — equivalent to "one framing window at a time"
// (spec.md §4.6): the producer blocks on send once the window is full,
// which is the backpressure signal propagated up to the underlying reader.
const demand = 1

type readerPublisher struct {
	r       io.Reader
	bufSize int
	used    int32
}

// FromReader adapts a plain io.Reader into a Publisher. Each Subscribe spins
// a single goroutine that reads bufSize chunks and feeds them through a
// bounded channel; the goroutine blocks (applying backpressure to the
// reader) whenever the consumer has not drained the previous chunk.
func FromReader(r io.Reader, bufSize int) Publisher {
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	return &readerPublisher{r: r, bufSize: bufSize}
}

func (p *readerPublisher) Subscribe(ctx context.Context) (Subscription, error) {
	if !atomic.CompareAndSwapInt32(&p.used, 0, 1) {
		return nil, rherr.ErrBodyAlreadySubscribed.Error(nil)
	}

	sub := &readerSubscription{
		bufSize: p.bufSize,
		ch:      make(chan *Chunk, demand),
		errCh:   make(chan error, 1),
		cancel:  make(chan struct{}),
	}
	go sub.pump(p.r)
	return sub, nil
}

type readerSubscription struct {
	bufSize   int
	ch        chan *Chunk
	errCh     chan error
	cancel    chan struct{}
	cancelled int32
	done      int32
}

func (s *readerSubscription) pump(r io.Reader) {
	defer close(s.ch)

	buf := make([]byte, s.bufSize)
	for {
		select {
		case <-s.cancel:
			return
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case s.ch <- NewChunk(cp):
			case <-s.cancel:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.errCh <- err
			}
			return
		}
	}
}

func (s *readerSubscription) Next(ctx context.Context) (*Chunk, error) {
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

func (s *readerSubscription) Cancel() {
	if atomic.CompareAndSwapInt32(&s.cancelled, 0, 1) {
		close(s.cancel)
		// Drain and release anything already buffered so a cancelled
		// subscription never leaks a chunk (spec.md §4.6).
		for c := range s.ch {
			_ = c.Release()
		}
	}
}

// FromBytes returns a Publisher over a fixed byte slice. Not restartable:
// calling Subscribe after the first subscription is exhausted still fails
// with ErrBodyAlreadySubscribed per the single-subscription contract — the
// application must build a fresh Publisher (or rely on the §9 documented
// precondition) to replay the same bytes to a second endpoint.
func FromBytes(b []byte) Publisher {
	return FromReader(bytes.NewReader(b), len(b))
}
