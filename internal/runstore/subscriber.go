package runstore

import "sync"

// subscriber delivers events to a single handler on a dedicated goroutine.
// Deliveries are serialized and ordered; the store never invokes handlers
// from the appender's goroutine.
type subscriber struct {
	handler func(Event)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	done   chan struct{}
}

func newSubscriber(handler func(Event), replay []Event) *subscriber {
	s := &subscriber{
		handler: handler,
		queue:   replay,
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.deliver()
	return s
}

// enqueue appends an event for delivery. No-op after close.
func (s *subscriber) enqueue(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, e)
	s.cond.Signal()
}

// close stops delivery. Queued events not yet handed to the handler are
// dropped. Blocks until the delivery goroutine has exited, so no handler
// call happens after close returns.
func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
	<-s.done
}

func (s *subscriber) deliver() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		// Handler runs outside the lock so enqueue never blocks on it.
		s.handler(e)
	}
}
