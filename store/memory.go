package store

import (
	"io"
	"strings"
	"sync"
)

// Memory is an in-memory Store. It is intended for testing and for running
// a throwaway index without any disk state.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// List returns a channel giving every key in the store. The listing is a
// snapshot taken when List is called.
func (ms *Memory) List() <-chan string {
	ms.m.RLock()
	keys := make([]string, 0, len(ms.store))
	for k := range ms.store {
		keys = append(keys, k)
	}
	ms.m.RUnlock()
	c := make(chan string)
	go func() {
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// Open returns a reader over the value for key, and the value's size.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, ErrNotExist
	}
	return membuf(v), int64(len(v)), nil
}

// Create makes a new entry in the store and returns a writer to fill it.
// The entry is visible to Open only after the writer is closed.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	ms.m.RLock()
	_, exists := ms.store[key]
	ms.m.RUnlock()
	if exists {
		return nil, ErrKeyExists
	}
	return &memwriter{parent: ms, key: key}, nil
}

// Delete removes key from the store. A missing key is not an error.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}

// Dump returns the contents of the store as a string, for debugging.
func (ms *Memory) Dump() string {
	var b strings.Builder
	ms.m.RLock()
	for k, v := range ms.store {
		s := v
		if len(s) > 100 {
			s = s[:100]
		}
		b.WriteString(k + ": " + string(s) + "\n")
	}
	ms.m.RUnlock()
	return b.String()
}

type membuf []byte

func (b membuf) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b membuf) Close() error { return nil }

type memwriter struct {
	parent *Memory
	key    string
	data   []byte
	closed bool
}

func (w *memwriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *memwriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.parent.m.Lock()
	w.parent.store[w.key] = w.data
	w.parent.m.Unlock()
	return nil
}
