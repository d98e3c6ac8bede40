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

// Package intercept implements the ExchangeInterceptor chain of spec.md
// §4.5: ordered middleware around an exchange that may pass it through,
// decorate it, or short-circuit it with a synthesized response.
package intercept

import (
	"context"

	"github.com/nabbar/rhttpclient/exchange"
)

// InterceptableExchange is what an interceptor sees: the pending request
// headers/body, mutable in place before the wire request is framed.
type InterceptableExchange struct {
	Request     exchange.RequestHeaders
	RequestBody interface{} // body.Publisher; kept opaque to avoid a forced import cycle with body's own interceptable helpers
}

// Interceptor is one link in the chain. Returning (exchange, true) proceeds
// with the (possibly decorated) exchange. Returning (_, false) short
// circuits: Result must then be set to the synthesized response and the
// wire request is never sent.
type Interceptor interface {
	Intercept(ctx context.Context, in InterceptableExchange) (out InterceptableExchange, proceed bool, result *SynthesizedResponse)
}

// InterceptorFunc adapts a plain function to the Interceptor interface, the
// same ergonomic shortcut net/http's http.HandlerFunc offers for handlers.
type InterceptorFunc func(ctx context.Context, in InterceptableExchange) (InterceptableExchange, bool, *SynthesizedResponse)

func (f InterceptorFunc) Intercept(ctx context.Context, in InterceptableExchange) (InterceptableExchange, bool, *SynthesizedResponse) {
	return f(ctx, in)
}

// SynthesizedResponse is what a short-circuiting interceptor hands back in
// place of a wire response.
type SynthesizedResponse struct {
	StatusCode int
	Headers    exchange.Headers
	Body       []byte
}
