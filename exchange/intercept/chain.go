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

package intercept

import "context"

// Chain runs a declaration-ordered list of interceptors. It stops at the
// first one that short-circuits.
type Chain struct {
	interceptors []Interceptor
}

// NewChain builds a Chain in the given declaration order.
func NewChain(interceptors ...Interceptor) *Chain {
	return &Chain{interceptors: interceptors}
}

// Run feeds in through every interceptor in order. If every interceptor
// proceeds, Run returns the final (possibly decorated) exchange and a nil
// result. The first interceptor to short-circuit stops the chain; its
// SynthesizedResponse is returned and no further interceptor runs.
func (c *Chain) Run(ctx context.Context, in InterceptableExchange) (InterceptableExchange, *SynthesizedResponse) {
	cur := in
	for _, ic := range c.interceptors {
		next, proceed, result := ic.Intercept(ctx, cur)
		if !proceed {
			return cur, result
		}
		cur = next
	}
	return cur, nil
}
