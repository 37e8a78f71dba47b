package reactor

import "fmt"

// Pool is a fixed set of Reactors with least-loaded selection brokered
// through a single goroutine so concurrent GetLeastLoaded calls never
// race with the load updates each Reactor performs on its own fd map
// (spec §4.1: "queried through a serializing broker").
type Pool struct {
	reactors []*Reactor
	requests chan chan *Reactor
	done     chan struct{}
}

// NewPool creates size independent Reactors and starts the broker
// goroutine. size must be >= 1.
func NewPool(size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("reactor: pool size must be >= 1, got %d", size)
	}
	reactors := make([]*Reactor, 0, size)
	for i := 0; i < size; i++ {
		r, err := New()
		if err != nil {
			for _, created := range reactors {
				_ = created.Close()
			}
			return nil, err
		}
		reactors = append(reactors, r)
	}

	p := &Pool{
		reactors: reactors,
		requests: make(chan chan *Reactor),
		done:     make(chan struct{}),
	}
	go p.broker()
	return p, nil
}

func (p *Pool) broker() {
	for {
		select {
		case reply, ok := <-p.requests:
			if !ok {
				return
			}
			reply <- p.leastLoaded()
		case <-p.done:
			return
		}
	}
}

func (p *Pool) leastLoaded() *Reactor {
	best := p.reactors[0]
	bestLoad := best.Load()
	for _, r := range p.reactors[1:] {
		if l := r.Load(); l < bestLoad {
			best, bestLoad = r, l
		}
	}
	return best
}

// GetLeastLoaded returns the reactor in the pool with the fewest
// registered fds.
func (p *Pool) GetLeastLoaded() *Reactor {
	reply := make(chan *Reactor, 1)
	select {
	case p.requests <- reply:
		return <-reply
	case <-p.done:
		return p.reactors[0]
	}
}

// Size returns the number of reactors in the pool.
func (p *Pool) Size() int { return len(p.reactors) }

// TotalLoad sums Load() across every reactor in the pool, used to enforce
// the "replace the default pool only while empty" rule (spec §9).
func (p *Pool) TotalLoad() int {
	total := 0
	for _, r := range p.reactors {
		total += r.Load()
	}
	return total
}

// Close stops the broker and closes every reactor in the pool.
func (p *Pool) Close() error {
	close(p.done)
	var firstErr error
	for _, r := range p.reactors {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
