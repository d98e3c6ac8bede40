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

package negotiate

import (
	"bufio"

	"github.com/nabbar/rhttpclient/transport"
)

// primedConn wraps a transport.Conn whose leading bytes have already been
// buffered into pending by the H2C upgrade probe's bufio.Reader (the
// server's SETTINGS frame can arrive in the same TCP segment as its 101
// response). Read is satisfied from pending first; once drained, pending's
// own bufio.Reader transparently continues reading from the underlying
// conn, so callers never observe the seam.
type primedConn struct {
	transport.Conn
	pending *bufio.Reader
}

func (p primedConn) Read(b []byte) (int, error) {
	return p.pending.Read(b)
}
