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
	"io"
	"os"
	"runtime"
)

// Resource is the file/resource abstraction spec.md §6 names as an external
// collaborator ("file/resource abstraction for zero-copy body transfer").
// body.FileSink probes CanSendfile before attempting the OS sendfile path;
// protocol/http1 falls back to the chunks read from OpenReadableChannel
// otherwise.
type Resource interface {
	// Size returns the resource's length in bytes, or -1 if unknown.
	Size() int64

	// OpenReadableChannel opens the resource for streaming reads. The
	// returned closer must be released by the caller exactly once.
	OpenReadableChannel() (io.ReadCloser, error)

	// CanSendfile reports whether this resource exposes a raw file
	// descriptor suitable for the transport's Sendfile path, and that
	// descriptor's current offset.
	CanSendfile() (fd uintptr, offset int64, ok bool)
}

// FileResource is the default Resource backed by an *os.File.
type FileResource struct {
	path string
}

// NewFileResource wraps a filesystem path as a Resource.
func NewFileResource(path string) *FileResource {
	return &FileResource{path: path}
}

func (f *FileResource) Size() int64 {
	st, err := os.Stat(f.path)
	if err != nil {
		return -1
	}
	return st.Size()
}

func (f *FileResource) OpenReadableChannel() (io.ReadCloser, error) {
	return os.Open(f.path)
}

func (f *FileResource) CanSendfile() (uintptr, int64, bool) {
	fh, err := os.Open(f.path)
	if err != nil {
		return 0, 0, false
	}
	// The descriptor is handed to Transport.Sendfile (the default transport
	// closes it before returning); clear the finalizer so the GC never
	// closes fh's fd out from under that transfer once fh itself goes out
	// of scope here.
	runtime.SetFinalizer(fh, nil)
	return fh.Fd(), 0, true
}
