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
	"testing"
)

func TestChunkRetainRelease(t *testing.T) {
	c := NewChunk([]byte("hello"))
	c.Retain()

	if err := c.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if c.Released() {
		t.Fatalf("chunk released early: refcount should still be 1")
	}

	if err := c.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if !c.Released() {
		t.Fatalf("chunk should be released after matching Retain/Release pairs")
	}

	if err := c.Release(); err == nil {
		t.Fatalf("expected rherr.ErrBodyReleased on a third release")
	}
}

func TestPublisherSingleSubscription(t *testing.T) {
	p := FromBytes([]byte("payload"))
	ctx := context.Background()

	if _, err := p.Subscribe(ctx); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if _, err := p.Subscribe(ctx); err == nil {
		t.Fatalf("expected second Subscribe to fail: bodies are single-subscription")
	}
}

func TestSequencerCoalescesSmallChunks(t *testing.T) {
	ctx := context.Background()
	p := FromReader(bytes.NewReader([]byte("ab")), 1)
	sub, err := p.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	seq := Sequencer{CoalesceThreshold: 1024, SplitThreshold: 1024}
	reshaped := seq.Reshape(sub)

	c, err := reshaped.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got := string(c.Bytes()); got != "ab" {
		t.Fatalf("expected coalesced payload 'ab', got %q", got)
	}

	if _, err = reshaped.Next(ctx); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestSequencerSplitsOversizedChunks(t *testing.T) {
	ctx := context.Background()
	big := bytes.Repeat([]byte("x"), 10)
	p := FromBytes(big)
	sub, err := p.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	seq := Sequencer{CoalesceThreshold: 1024, SplitThreshold: 4}
	reshaped := seq.Reshape(sub)

	var total int
	for {
		c, err := reshaped.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if c.Len() > 4 {
			t.Fatalf("chunk exceeds split threshold: %d", c.Len())
		}
		total += c.Len()
	}
	if total != 10 {
		t.Fatalf("expected 10 total bytes, got %d", total)
	}
}

func TestSubscriptionCancelIsPrompt(t *testing.T) {
	ctx := context.Background()
	p := FromReader(bytes.NewReader(bytes.Repeat([]byte("y"), 1<<20)), 4)
	sub, err := p.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err = sub.Next(ctx); err != nil {
		t.Fatalf("first next: %v", err)
	}
	sub.Cancel()

	// Cancel must not hang and further reads must not resurrect the stream.
	done := make(chan struct{})
	go func() {
		sub.Cancel()
		close(done)
	}()
	<-done
}
