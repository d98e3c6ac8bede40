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

package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	id       string
	inFlight int32
	last     time.Time
	closed   int32
}

func (f *fakeConn) ID() string                     { return f.id }
func (f *fakeConn) InFlight() int32                { return atomic.LoadInt32(&f.inFlight) }
func (f *fakeConn) MaxConcurrent() int             { return 1 }
func (f *fakeConn) NegotiatedProtocol() string      { return "http/1.1" }
func (f *fakeConn) LastUsed() time.Time             { return f.last }
func (f *fakeConn) Ping(ctx context.Context) error  { return nil }
func (f *fakeConn) Close() error                    { atomic.StoreInt32(&f.closed, 1); return nil }

func newFakeDialer() (Dialer, *int32) {
	var n int32
	return func(ctx context.Context) (ManagedConn, error) {
		id := atomic.AddInt32(&n, 1)
		return &fakeConn{id: fmt.Sprintf("conn-%d", id), last: time.Now()}, nil
	}, &n
}

func TestAcquireDialsUpToMaxSize(t *testing.T) {
	dial, n := newFakeDialer()
	cfg := DefaultConfig()
	cfg.MaxSize = 2
	cfg.CleanPeriod = 0
	p := New("test", cfg, dial)

	l1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	l2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if *n != 2 {
		t.Fatalf("expected 2 dials, got %d", *n)
	}
	if p.ActiveConnections() != 2 {
		t.Fatalf("expected 2 active connections, got %d", p.ActiveConnections())
	}

	l1.Release(OutcomeOK)
	l2.Release(OutcomeOK)
}

func TestAcquireExhaustsWaitQueueWhenBufferFull(t *testing.T) {
	dial, _ := newFakeDialer()
	cfg := DefaultConfig()
	cfg.MaxSize = 1
	cfg.BufferSize = 1
	cfg.CleanPeriod = 0
	p := New("test", cfg, dial)

	l1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	_ = l1

	// The connection has MaxConcurrent()==1 so this one blocks.
	done := make(chan struct{})
	go func() {
		_, _ = p.Acquire(context.Background())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	// A third caller finds the buffer (size 1) already occupied.
	_, err = p.Acquire(context.Background())
	if err == nil {
		t.Fatalf("expected ConnectionPoolExhausted, got nil")
	}

	l1.Release(OutcomeOK)
	<-done
}

func TestLoadFactorMonotonicWithInFlight(t *testing.T) {
	dial, _ := newFakeDialer()
	cfg := DefaultConfig()
	cfg.MaxSize = 4
	cfg.CleanPeriod = 0
	p := New("test", cfg, dial)

	var leases []interface{ Release(Outcome) }
	prev := float32(-1)
	for i := 0; i < 4; i++ {
		l, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		leases = append(leases, l)
		lf := p.LoadFactor()
		if lf < prev {
			t.Fatalf("load factor decreased after acquiring: %f < %f", lf, prev)
		}
		prev = lf
	}

	for _, l := range leases {
		l.Release(OutcomeOK)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	dial, _ := newFakeDialer()
	cfg := DefaultConfig()
	cfg.CleanPeriod = 0
	p := New("test", cfg, dial)

	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := p.Shutdown(); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := p.Shutdown(); err != nil {
		t.Fatalf("second shutdown should be a no-op, got: %v", err)
	}

	if _, err := p.Acquire(context.Background()); err == nil {
		t.Fatalf("expected Acquire to fail on a shut down pool")
	}
}
