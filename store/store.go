// Package store provides a goroutine safe key-value interface for keeping
// distribution files. Values are streams rather than byte slices, so large
// artifacts can be stored without buffering them in memory.
//
// The FileSystem store is the usual choice. Memory is for testing, and S3
// keeps the files in an AWS S3 bucket.
package store

import (
	"errors"
	"io"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store is the stream based key-value store distribution content is kept
// in. Values are immutable once written, but they may be deleted and the
// key reused. Keys are used as file names by the FileSystem store, so they
// must not contain a forward slash.
type Store interface {
	// List returns a channel enumerating every key in the store.
	List() <-chan string
	// Open returns a reader for the value stored under key, along with
	// the value's size in bytes.
	Open(key string) (ReadAtCloser, int64, error)
	// Create returns a writer saving a new value under key. The value is
	// not visible until the writer is closed.
	Create(key string) (io.WriteCloser, error)
	// Delete removes the value stored under key. Deleting a missing key
	// is not an error.
	Delete(key string) error
}

var (
	// ErrKeyExists indicates an attempt to create a key which already exists.
	ErrKeyExists = errors.New("Key already exists")

	// ErrKeyInvalid indicates a key containing a slash, whitespace, or
	// control characters.
	ErrKeyInvalid = errors.New("Key contains invalid characters")

	// ErrNotExist indicates the key is not in the store.
	ErrNotExist = errors.New("Key does not exist")
)

// NewReader converts an io.ReaderAt into an io.Reader starting at offset 0.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// a short read is not an error for an io.Reader
		err = nil
	}
	return
}
