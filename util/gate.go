package util

// A Gate limits the number of goroutines allowed inside a critical section
// at a time. Goroutines enter by calling Enter() and signal they are done
// by calling Leave(). A gate may be shut down with Stop(), after which all
// waiting and future Enter() calls return false.
//
// The index server uses a gate to bound the number of simultaneous
// downloads from the upstream index.
type Gate struct {
	c    chan struct{}
	stop chan struct{}
}

// NewGate returns a Gate admitting at most n goroutines at a time.
func NewGate(n int) *Gate {
	return &Gate{
		c:    make(chan struct{}, n),
		stop: make(chan struct{}),
	}
}

// Enter blocks until there is room inside the gate, and then returns true.
// It returns false if the gate was stopped while waiting.
func (g *Gate) Enter() bool {
	select {
	case g.c <- struct{}{}:
		return true
	case <-g.stop:
		return false
	}
}

// Leave marks this goroutine as being outside the gate. Each call to Enter
// which returned true must be balanced by one call to Leave. The two calls
// do not need to come from the same goroutine.
func (g *Gate) Leave() {
	<-g.c
}

// Stop shuts the gate. Goroutines already inside are unaffected, but any
// blocked or subsequent Enter returns false.
func (g *Gate) Stop() {
	close(g.stop)
}
