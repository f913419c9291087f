package util

import (
	"errors"
	"io"
	"sync"
	"time"
)

// A RateCounter paces the payload reads done while hashing. Each
// rateInterval it grants rate*interval bytes; a read may start only while
// the grant has not been spent.
type RateCounter struct {
	ready chan struct{} // send succeeds while bytes remain in the grant
	done  chan struct{}
	once  sync.Once

	m       sync.Mutex
	balance int64
}

const rateInterval = time.Minute

// NewRateCounter starts a counter granting rate bytes per second. Call Stop
// to release its goroutine.
func NewRateCounter(rate float64) *RateCounter {
	grant := int64(rate * rateInterval.Seconds())
	r := &RateCounter{
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		balance: grant,
	}
	go r.run(grant)
	return r
}

// Use charges count bytes against the current grant.
func (r *RateCounter) Use(count int64) {
	r.m.Lock()
	r.balance -= count
	r.m.Unlock()
}

// Stop ends the counter. Waiting and later reads return ErrStopped.
func (r *RateCounter) Stop() {
	r.once.Do(func() { close(r.done) })
}

func (r *RateCounter) run(grant int64) {
	tick := time.NewTicker(rateInterval)
	defer tick.Stop()
	for {
		r.m.Lock()
		open := r.balance > 0
		r.m.Unlock()
		var ready chan struct{}
		if open {
			ready = r.ready
		}
		select {
		case <-r.done:
			close(r.ready)
			return
		case <-tick.C:
			r.Use(-grant)
		case ready <- struct{}{}:
		}
	}
}

// ErrStopped is returned by reads through a stopped RateCounter.
var ErrStopped = errors.New("rate counter stopped")

// Wrap paces reads from reader. One counter may pace many readers.
func (r *RateCounter) Wrap(reader io.Reader) io.Reader {
	return &pacedReader{r: reader, rc: r}
}

type pacedReader struct {
	r  io.Reader
	rc *RateCounter
}

func (p *pacedReader) Read(buf []byte) (int, error) {
	if _, ok := <-p.rc.ready; !ok {
		return 0, ErrStopped
	}
	select {
	case <-p.rc.done:
		return 0, ErrStopped
	default:
	}
	n, err := p.r.Read(buf)
	p.rc.Use(int64(n))
	return n, err
}
