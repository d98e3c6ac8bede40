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
	"container/heap"
	"time"
)

// slot is the pool's bookkeeping wrapper around one ManagedConn. It carries
// state that belongs to the pool, not to the connection itself (spec.md §3:
// "the pool exclusively owns the slot").
type slot struct {
	conn     ManagedConn
	state    State
	inFlight int32
	index    int // position in the active heap, -1 when not a heap member
	parkedAt time.Time
}

// activeHeap keeps active-state slots ordered by (in_flight ascending,
// last_used descending) so the least-loaded/warmest selection rule (spec.md
// §4.2) is an O(log n) operation instead of an O(n) scan, per the §9 design
// note.
type activeHeap []*slot

func (h activeHeap) Len() int { return len(h) }

func (h activeHeap) Less(i, j int) bool {
	if h[i].inFlight != h[j].inFlight {
		return h[i].inFlight < h[j].inFlight
	}
	// Tie-break: most recently used wins (warmer TLS/TCP state), i.e. the
	// larger LastUsed timestamp sorts first.
	return h[i].conn.LastUsed().After(h[j].conn.LastUsed())
}

func (h activeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *activeHeap) Push(x interface{}) {
	s := x.(*slot)
	s.index = len(*h)
	*h = append(*h, s)
}

func (h *activeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*h = old[:n-1]
	return s
}

// best returns the least-loaded, warmest slot with spare capacity, or nil.
// The heap already orders by in_flight ascending, so the common case (every
// connection shares the same max_concurrent, or the least-loaded one has
// room) is O(1): heap[0] qualifies. Mixed-protocol pools, where an HTTP/2
// connection's much higher max_concurrent can leave it eligible even at a
// higher in_flight than a saturated HTTP/1.1 pipeline ahead of it in the
// heap, fall back to a linear scan.
func (h activeHeap) best() *slot {
	if len(h) > 0 && int(h[0].inFlight) < h[0].conn.MaxConcurrent() {
		return h[0]
	}
	found := -1
	for i, s := range h {
		if int(s.inFlight) >= s.conn.MaxConcurrent() {
			continue
		}
		if found < 0 || h.Less(i, found) {
			found = i
		}
	}
	if found < 0 {
		return nil
	}
	return h[found]
}

// reprioritize re-sorts s after its in_flight or last_used changed.
func reprioritize(h *activeHeap, s *slot) {
	if s.index >= 0 && s.index < h.Len() {
		heap.Fix(h, s.index)
	}
}
