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

package exchange

import (
	"context"

	libctx "github.com/nabbar/golib/context"
)

// Context is the application-typed carrier spec.md §9 asks for: an arbitrary
// value threaded untouched through interceptors and the exchange, with
// identity preserved (no copy, no re-wrap) so a pointer stashed before
// dispatch is the same pointer an interceptor or the caller observes after
// completion. libctx.Config[T] already provides exactly this contract (a
// concurrency-safe keyed map over context.Context) so ExchangeContext is a
// thin, key-fixed specialization of it rather than a parallel
// implementation.
type Context[T any] struct {
	cfg   libctx.Config[string]
	value T
}

const valueKey = "exchange.value"

// NewContext wraps value for transport through one exchange. parent, if
// nil, defaults to context.Background().
func NewContext[T any](parent context.Context, value T) *Context[T] {
	if parent == nil {
		parent = context.Background()
	}
	c := &Context[T]{
		cfg:   libctx.New[string](parent),
		value: value,
	}
	c.cfg.Store(valueKey, value)
	return c
}

// Value returns the carried application value, untouched.
func (c *Context[T]) Value() T {
	return c.value
}

// Context exposes the underlying context.Context for cancellation/deadline
// propagation into the exchange's wire I/O.
func (c *Context[T]) Context() context.Context {
	return c.cfg.GetContext()
}

// WithContext returns a copy of c carrying a new parent context.Context,
// preserving the same application value identity.
func (c *Context[T]) WithContext(ctx context.Context) *Context[T] {
	return &Context[T]{
		cfg:   c.cfg.Clone(ctx),
		value: c.value,
	}
}
