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

// Package rherr defines the error taxonomy shared by every package of the
// reactive HTTP client core. It follows the golib/errors convention: each
// sub-component of this module claims a band of CodeError values rooted at
// liberr.MinAvailable and registers a message function for it.
//
// The named errors (ErrConnectionPoolExhausted, ErrRequestTimeout, ...) are
// liberr.CodeError constants, not error values: ErrX.Error(parent) builds a
// liberr.Error carrying that code. The package defines no sentinel error
// values for errors.Is.
package rherr

import (
	liberr "github.com/nabbar/golib/errors"
)

// Band allocation for this module's packages. Each is a multiple of 100
// above liberr.MinAvailable, mirroring the MinPkgXxx spacing in
// errors/modules.go.
const (
	MinPkgEndpoint liberr.CodeError = liberr.MinAvailable + 100*(iota+1)
	MinPkgPool
	MinPkgNegotiate
	MinPkgExchange
	MinPkgHTTP1
	MinPkgHTTP2
	MinPkgBody
	MinPkgWebSocket
	MinPkgTransport
)
