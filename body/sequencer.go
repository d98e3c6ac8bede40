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
	"io"
)

// Sequencer reshapes an arbitrary producer's chunk shape into one amenable
// to a wire framer (spec.md §4.6, GLOSSARY "Sequencer"): chunks smaller than
// CoalesceThreshold are accumulated until the threshold (or the publisher is
// exhausted), and chunks larger than SplitThreshold are cut into
// SplitThreshold-sized pieces so no single write blocks the connection's
// event loop for longer than one chunk's worth of syscall time.
type Sequencer struct {
	CoalesceThreshold int
	SplitThreshold    int
}

// DefaultSequencer matches the teacher's own transport buffer sizing
// (httpcli/dns-mapper's TransportConfig defaults reason about request
// windows in the tens-of-KB range).
func DefaultSequencer() Sequencer {
	return Sequencer{CoalesceThreshold: 16 * 1024, SplitThreshold: 64 * 1024}
}

// Reshape wraps sub so that Next returns chunks conforming to the
// sequencer's thresholds instead of the producer's native chunk shape.
func (s Sequencer) Reshape(sub Subscription) Subscription {
	if s.CoalesceThreshold <= 0 {
		s.CoalesceThreshold = 16 * 1024
	}
	if s.SplitThreshold <= 0 {
		s.SplitThreshold = 64 * 1024
	}
	return &seqSubscription{inner: sub, cfg: s}
}

type seqSubscription struct {
	inner   Subscription
	cfg     Sequencer
	pending []byte
	split   []byte // leftover from a split oversized chunk, served before pulling inner again
	eof     bool
}

func (s *seqSubscription) Next(ctx context.Context) (*Chunk, error) {
	for {
		if len(s.split) > 0 {
			return s.takeSplit(), nil
		}

		if s.eof {
			if len(s.pending) > 0 {
				return s.flushPending(), nil
			}
			return nil, io.EOF
		}

		c, err := s.inner.Next(ctx)
		if err != nil {
			if err == io.EOF {
				s.eof = true
				continue
			}
			return nil, err
		}

		b := c.Bytes()
		_ = c.Release()

		if len(b) > s.cfg.SplitThreshold {
			s.split = b
			// Bytes already coalesced arrived first on the wire: emit them
			// before the first piece of the split chunk.
			if len(s.pending) > 0 {
				return s.flushPending(), nil
			}
			continue
		}

		s.pending = append(s.pending, b...)
		if len(s.pending) >= s.cfg.CoalesceThreshold {
			return s.flushPending(), nil
		}
	}
}

func (s *seqSubscription) takeSplit() *Chunk {
	n := s.cfg.SplitThreshold
	if n > len(s.split) {
		n = len(s.split)
	}
	out := make([]byte, n)
	copy(out, s.split[:n])
	s.split = s.split[n:]
	return NewChunk(out)
}

func (s *seqSubscription) flushPending() *Chunk {
	out := s.pending
	s.pending = nil
	return NewChunk(out)
}

func (s *seqSubscription) Cancel() {
	s.inner.Cancel()
}
