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
	"compress/flate"
	"compress/gzip"
	"context"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/nabbar/rhttpclient/rherr"
)

// Encoding identifies a response Content-Encoding this module can decode
// transparently (spec.md §4.6).
type Encoding string

const (
	EncodingIdentity Encoding = "identity"
	EncodingGzip     Encoding = "gzip"
	EncodingDeflate  Encoding = "deflate"
	EncodingBrotli   Encoding = "br"
	EncodingZstd     Encoding = "zstd"
)

// Supported reports whether this build can decode enc. gzip/deflate are
// always available (stdlib); br/zstd depend on the codec libraries wired in
// SPEC_FULL.md §4 and are reported available whenever this package is
// linked in, since both are unconditional imports here.
func Supported(enc Encoding) bool {
	switch enc {
	case EncodingIdentity, EncodingGzip, EncodingDeflate, EncodingBrotli, EncodingZstd:
		return true
	default:
		return false
	}
}

// Decompress wraps sub so that Next yields the decoded byte stream. Once
// decompression starts, Content-Length is no longer meaningful (spec.md
// §4.6): the returned subscription ends on end-of-decompression (io.EOF
// from the codec), not on a byte count.
func Decompress(sub Subscription, enc Encoding) (Subscription, error) {
	switch enc {
	case "", EncodingIdentity:
		return sub, nil
	case EncodingGzip, EncodingDeflate, EncodingBrotli, EncodingZstd:
		pr := &subscriptionReader{sub: sub}
		r, err := newDecoder(enc, pr)
		if err != nil {
			return nil, err
		}
		return FromReader(r, 32*1024).Subscribe(context.Background())
	default:
		return nil, rherr.ErrCompressionUnsupported.Error(nil)
	}
}

// LazyDecompress wraps sub the same way Decompress does, except the decoder
// (and the blocking read it needs to parse its leading bytes, e.g. gzip's
// 10-byte header) is only constructed on the first Next call rather than
// eagerly. A producer that feeds sub from the same goroutine that would
// otherwise call Decompress (protocol/http2's single read loop) would
// deadlock on that leading read; deferring it to the consumer's own Next
// call breaks the cycle.
func LazyDecompress(sub Subscription, enc Encoding) Subscription {
	if enc == "" || enc == EncodingIdentity {
		return sub
	}
	return &lazyDecompressSubscription{inner: sub, enc: enc}
}

type lazyDecompressSubscription struct {
	enc   Encoding
	once  sync.Once
	err   error
	inner Subscription
}

func (l *lazyDecompressSubscription) Next(ctx context.Context) (*Chunk, error) {
	l.once.Do(func() {
		decoded, err := Decompress(l.inner, l.enc)
		if err != nil {
			l.err = err
			return
		}
		l.inner = decoded
	})
	if l.err != nil {
		return nil, l.err
	}
	return l.inner.Next(ctx)
}

func (l *lazyDecompressSubscription) Cancel() {
	l.inner.Cancel()
}

func newDecoder(enc Encoding, r io.Reader) (io.Reader, error) {
	switch enc {
	case EncodingGzip:
		return gzip.NewReader(r)
	case EncodingDeflate:
		return flate.NewReader(r), nil
	case EncodingBrotli:
		return brotli.NewReader(r), nil
	case EncodingZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return nil, rherr.ErrCompressionUnsupported.Error(nil)
	}
}

// subscriptionReader adapts a Subscription back into an io.Reader so the
// stdlib/codec decompressors (which all expect io.Reader) can consume wire
// chunks without the body package leaking its reactive contract into them.
type subscriptionReader struct {
	sub     Subscription
	current *Chunk
	off     int
}

func (r *subscriptionReader) Read(p []byte) (int, error) {
	for r.current == nil || r.off >= r.current.Len() {
		if r.current != nil {
			_ = r.current.Release()
		}
		c, err := r.sub.Next(context.Background())
		if err != nil {
			r.current = nil
			return 0, err
		}
		r.current = c
		r.off = 0
	}

	n := copy(p, r.current.Bytes()[r.off:])
	r.off += n
	return n, nil
}
