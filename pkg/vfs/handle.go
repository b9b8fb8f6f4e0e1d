package vfs

import (
	"io"
	iofs "io/fs"
	"sync"
)

// Handle is an open read handle over a file's cached buffer. It satisfies
// io.Reader, io.ReaderAt, and io.Closer; reads after Close fail with
// fs.ErrClosed.
type Handle struct {
	path string

	mu     sync.Mutex
	data   []byte
	off    int64
	closed bool
}

func newHandle(path string, data []byte) *Handle {
	return &Handle{path: path, data: data}
}

// Path returns the path the handle was opened at.
func (h *Handle) Path() string { return h.path }

// Size returns the length of the underlying buffer.
func (h *Handle) Size() int64 { return int64(len(h.data)) }

// Read reads from the handle's current offset.
func (h *Handle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, iofs.ErrClosed
	}
	if h.off >= int64(len(h.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.data[h.off:])
	h.off += int64(n)
	return n, nil
}

// ReadAt reads len(p) bytes starting at off. A read reaching the end of the
// buffer returns the bytes read and io.EOF only when fewer than len(p)
// bytes were available, matching io.ReaderAt.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, iofs.ErrClosed
	}
	if off < 0 {
		return 0, opError("read", h.path, ErrInvalid)
	}
	if off >= int64(len(h.data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close invalidates the handle. Closing twice fails with fs.ErrClosed.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return iofs.ErrClosed
	}
	h.closed = true
	return nil
}
