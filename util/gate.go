package util

import "sync"

// A Gate limits concurrency. Every gate has a maximum number of goroutines
// it allows through at a time. Goroutines enter the gate by calling Enter(),
// and signal that they are done by calling Leave().
//
// A gate can be stopped. After that, Enter() returns false without
// entering, which lets a batch stop issuing new work while the work already
// inside finishes.
type Gate struct {
	c    chan struct{}
	stop chan struct{}
	once sync.Once
}

// NewGate returns a Gate which accepts at most n entries at a time.
func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{
		c:    make(chan struct{}, n),
		stop: make(chan struct{}),
	}
}

// Enter blocks the calling goroutine until there are less than n goroutines
// inside. It returns true if the goroutine entered, and false if the gate
// was stopped. Only call Leave() after a true return.
// It is safe to call this from multiple goroutines.
func (g *Gate) Enter() bool {
	select {
	case g.c <- struct{}{}:
		select {
		case <-g.stop:
			<-g.c
			return false
		default:
			return true
		}
	case <-g.stop:
		return false
	}
}

// Leave marks a goroutine outside the critical section. Each successful
// Enter must be balanced by one Leave. They do not need to be called from
// the same goroutine.
func (g *Gate) Leave() {
	<-g.c
}

// Stop closes the gate to new entries, and waits until every goroutine
// currently inside has left.
func (g *Gate) Stop() {
	g.once.Do(func() {
		close(g.stop)
		for i := 0; i < cap(g.c); i++ {
			g.c <- struct{}{}
		}
	})
}
