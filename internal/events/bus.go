package events

import "sync"

// Bus fans events out to subscribers using the Publish/Subscribe pattern.
// Delivery to each subscriber is asynchronous but strictly FIFO: every
// subscriber sees every event published after it subscribed, in emission
// order. Unlike a fixed-size channel there is no drop policy; the queue
// grows as needed and the consumer's callback pace is its own concern.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscriber
	closed bool
}

type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn to receive every subsequent event. The callback
// runs on a dedicated goroutine; panics are recovered so one consumer cannot
// disrupt the bus. Returns an unsubscribe function.
func (b *Bus) Subscribe(fn func(Event)) func() {
	sub := &subscriber{}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go sub.drain(fn)

	return func() {
		b.mu.Lock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.close()
	}
}

// Publish appends the event to every subscriber's queue.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	subs := append([]*subscriber(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.push(e)
	}
}

// Close detaches all subscribers. Events already queued are still delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (s *subscriber) push(e Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, e)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) drain(fn func(Event)) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		deliver(fn, e)
	}
}

func deliver(fn func(Event), e Event) {
	defer func() {
		// A panicking consumer must not take the bus down with it.
		_ = recover()
	}()
	fn(e)
}
