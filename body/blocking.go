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
	"context"
	"sync/atomic"

	"github.com/nabbar/rhttpclient/rherr"
)

// BlockingSource is a synchronous, possibly slow producer of byte slices —
// the shape of a directory-service read or any other collaborator that
// cannot be made to cooperate with the connection's single I/O worker
// (spec.md §9 "Blocking collaborators"). FromBlocking never calls Next on
// the worker goroutine directly; it runs it on a caller-supplied executor.
type BlockingSource interface {
	// Next returns the next slice of bytes, or io.EOF-equivalent via ok=false
	// with a nil error when exhausted.
	Next() (b []byte, ok bool, err error)
}

// Executor runs fn on a dedicated worker, never on the calling goroutine.
// A *sync goroutine pool, a bounded worker queue, or (trivially) `go fn()`
// each satisfy this; FromBlocking only needs the "never block the I/O
// worker" guarantee the spec calls for.
type Executor func(fn func())

// FromBlocking adapts a BlockingSource into a Publisher without ever
// invoking BlockingSource.Next on the subscriber's goroutine. This mirrors
// how the teacher's LDAP excerpt exposes a synchronous directory lookup as
// an async sequence: the blocking call runs on a dedicated executor and its
// results cross the async boundary through a channel.
func FromBlocking(src BlockingSource, exec Executor) Publisher {
	return &blockingPublisher{src: src, exec: exec}
}

type blockingPublisher struct {
	src  BlockingSource
	exec Executor
	used int32
}

func (p *blockingPublisher) Subscribe(ctx context.Context) (Subscription, error) {
	if !atomic.CompareAndSwapInt32(&p.used, 0, 1) {
		return nil, rherr.ErrBodyAlreadySubscribed.Error(nil)
	}

	sub := &readerSubscription{
		ch:     make(chan *Chunk, demand),
		errCh:  make(chan error, 1),
		cancel: make(chan struct{}),
	}

	run := func() {
		defer close(sub.ch)
		for {
			select {
			case <-sub.cancel:
				return
			default:
			}

			b, ok, err := p.src.Next()
			if err != nil {
				sub.errCh <- err
				return
			}
			if !ok {
				return
			}

			select {
			case sub.ch <- NewChunk(b):
			case <-sub.cancel:
				return
			}
		}
	}

	if p.exec != nil {
		p.exec(run)
	} else {
		go run()
	}

	return sub, nil
}
