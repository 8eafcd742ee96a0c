package events

import "sync"

// Subscription is a live registration on a Hub. This process keeps its
// subscriptions for its whole lifetime; Cancel exists for teardown paths.
type Subscription struct {
	hub      *Hub
	id       uint64
	category Category
	handler  Handler

	mu      sync.Mutex
	pending []Event
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// ID returns the hub-unique subscription id.
func (s *Subscription) ID() uint64 { return s.id }

// Category returns the subscribed category.
func (s *Subscription) Category() Category { return s.category }

// Cancel removes the subscription. Events already queued are still delivered.
func (s *Subscription) Cancel() {
	s.hub.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) enqueue(e Event) {
	s.mu.Lock()
	s.pending = append(s.pending, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) take() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.pending
	s.pending = nil
	return batch
}

func (s *Subscription) dispatch() {
	defer s.hub.wg.Done()

	for {
		select {
		case <-s.notify:
			s.deliver(s.take())
		case <-s.done:
			s.deliver(s.take())
			return
		}
	}
}

func (s *Subscription) deliver(batch []Event) {
	for _, e := range batch {
		s.call(e)
		s.hub.delivered.Add(1)
	}
}

func (s *Subscription) call(e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.hub.logger.Error("handler panic", "category", s.category, "kind", e.Kind, "panic", r)
		}
	}()
	s.handler(e)
}
