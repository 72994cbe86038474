package proxy

import (
	"sync"
)

// singleflight collapses concurrent calls for the same key into one
// execution. Late arrivals wait for the in-progress call to finish
// instead of starting their own.
type singleflight struct {
	mu       sync.Mutex           // controls inflight
	inflight map[string]*fillcall // calls in progress
}

type fillcall struct {
	wg sync.WaitGroup
}

func (s *singleflight) Do(key string, fn func()) {
	s.mu.Lock()
	if c, ok := s.inflight[key]; ok {
		// key is already being worked on
		s.mu.Unlock()
		c.wg.Wait()
		return
	}
	c := &fillcall{}
	c.wg.Add(1)
	if s.inflight == nil {
		s.inflight = make(map[string]*fillcall)
	}
	s.inflight[key] = c
	s.mu.Unlock()
	defer func() {
		c.wg.Done()
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}()

	fn()
}
