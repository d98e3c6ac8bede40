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

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
)

var errSendfileUnsupported = errors.New("transport: sendfile not supported on this connection")

// ErrSendfileUnsupported is returned by Sendfile when the zero-copy path is
// not available; callers (the body sequencer) must fall back to chunking.
func ErrSendfileUnsupported() error { return errSendfileUnsupported }

type netTransport struct {
	dialer *net.Dialer
}

// NewDefault returns the stdlib-backed Transport implementation: it resolves
// and dials with net.Dialer, performs the TLS handshake itself (rather than
// deferring to net/http, which spec.md asks this module to replace), and
// exposes a best-effort sendfile path on platforms where *net.TCPConn
// supports ReadFrom-driven zero copy.
func NewDefault() Transport {
	return &netTransport{dialer: &net.Dialer{}}
}

func (t *netTransport) Connect(ctx context.Context, opts DialOptions) (Conn, error) {
	addr := opts.ForceAddr
	if addr == "" {
		addr = net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	}

	d := *t.dialer
	if opts.DialTimeout > 0 {
		d.Timeout = opts.DialTimeout
	}
	if opts.LocalAddr != "" {
		if la, err := net.ResolveTCPAddr(opts.Network.String(), opts.LocalAddr); err == nil {
			d.LocalAddr = la
		}
	}

	raw, err := d.DialContext(ctx, opts.Network.String(), addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	if opts.TLS == nil {
		return &plainConn{Conn: raw}, nil
	}

	cfg := opts.TLS.TLS(opts.Host)
	if cfg == nil {
		cfg = &tls.Config{ServerName: opts.Host}
	} else {
		cfg = cfg.Clone()
	}
	if len(opts.ALPN) > 0 {
		cfg.NextProtos = opts.ALPN
	}

	tc := tls.Client(raw, cfg)
	hctx := ctx
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}
	if err = tc.HandshakeContext(hctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("transport: tls handshake %s: %w", addr, err)
	}

	return &tlsConn{Conn: tc}, nil
}

func (t *netTransport) Sendfile(conn Conn, fd uintptr, offset int64, length int64) (int64, error) {
	// The stdlib net.TCPConn.ReadFrom already triggers sendfile(2) under the
	// hood when copying from an *os.File via io.Copy on linux/darwin; this
	// core does not reimplement the syscall, it only recognizes when the
	// fast path is reachable. A TLS-wrapped connection can never use it
	// (the kernel cannot encrypt in-flight), so only plainConn qualifies.
	// fd is closed on every return path, including the unsupported ones.
	f := os.NewFile(fd, "sendfile")
	if f == nil {
		return 0, errSendfileUnsupported
	}
	defer f.Close()

	pc, ok := conn.(*plainConn)
	if !ok {
		return 0, errSendfileUnsupported
	}
	tcp, ok := pc.Conn.(*net.TCPConn)
	if !ok {
		return 0, errSendfileUnsupported
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return 0, err
		}
	}

	var r io.Reader = f
	if length >= 0 {
		r = io.LimitReader(f, length)
	}

	return io.Copy(tcp, r)
}

type plainConn struct {
	net.Conn
}

func (p *plainConn) ConnectionState() (tls.ConnectionState, bool) {
	return tls.ConnectionState{}, false
}

type tlsConn struct {
	*tls.Conn
}

func (c *tlsConn) ConnectionState() (tls.ConnectionState, bool) {
	return c.Conn.ConnectionState(), true
}
