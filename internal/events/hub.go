package events

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"grimm.is/linkup/internal/clock"
	"grimm.is/linkup/internal/logging"
)

// DefaultMaxSubscriptions bounds the number of live subscriptions per hub.
const DefaultMaxSubscriptions = 64

var (
	ErrBusUninitialized = errors.New("event bus not initialized")
	ErrBusClosed        = errors.New("event bus closed")
	ErrBusExhausted     = errors.New("event bus subscription limit reached")
)

// BusError reports a failed subscription.
type BusError struct {
	Category Category
	Err      error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Category, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// Handler receives events on the subscription's dispatch goroutine. It must
// not block and must not retain the event beyond the call.
type Handler func(Event)

// Bind returns a Handler that passes c to fn on every event, so handlers
// receive their state explicitly instead of capturing it.
func Bind[C any](c C, fn func(C, Event)) Handler {
	return func(e Event) {
		fn(c, e)
	}
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock sets the clock used to stamp events.
func WithClock(c clock.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

// WithMaxSubscriptions overrides DefaultMaxSubscriptions.
func WithMaxSubscriptions(n int) Option {
	return func(h *Hub) { h.max = n }
}

// WithLogger sets the logger used for handler panics.
func WithLogger(l *logging.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// Hub is the event bus.
// Every subscription owns a queue and a dispatch goroutine; Publish appends
// to the queues and returns, so events are never dropped and publishers
// never wait on handlers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[Category][]*Subscription
	count  int
	nextID uint64
	closed bool

	max    int
	clock  clock.Clock
	logger *logging.Logger
	wg     sync.WaitGroup

	published atomic.Uint64
	delivered atomic.Uint64
}

// NewHub creates a new event hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:  make(map[Category][]*Subscription),
		max:   DefaultMaxSubscriptions,
		clock: clock.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.WithComponent("events")
	}
	return h
}

// Subscribe registers fn for every event of the category. Subscribing twice
// delivers each event twice.
func (h *Hub) Subscribe(category Category, fn Handler) (*Subscription, error) {
	if h == nil {
		return nil, &BusError{Category: category, Err: ErrBusUninitialized}
	}
	if fn == nil {
		return nil, &BusError{Category: category, Err: errors.New("nil handler")}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, &BusError{Category: category, Err: ErrBusClosed}
	}
	if h.max > 0 && h.count >= h.max {
		return nil, &BusError{Category: category, Err: ErrBusExhausted}
	}

	h.nextID++
	s := &Subscription{
		hub:      h,
		id:       h.nextID,
		category: category,
		handler:  fn,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	h.subs[category] = append(h.subs[category], s)
	h.count++

	h.wg.Add(1)
	go s.dispatch()

	return s, nil
}

// Publish delivers e to subscribers of its category and to CategorySystem
// subscribers. A zero timestamp is filled in from the hub clock.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = h.clock.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	h.published.Add(1)

	cat := e.Kind.Category()
	for _, s := range h.subs[cat] {
		s.enqueue(e)
	}
	if cat != CategorySystem {
		for _, s := range h.subs[CategorySystem] {
			s.enqueue(e)
		}
	}
}

// Stats returns publish/delivery counts for monitoring.
func (h *Hub) Stats() (published, delivered uint64) {
	return h.published.Load(), h.delivered.Load()
}

// Subscriptions returns the number of live subscriptions.
func (h *Hub) Subscriptions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Close stops every dispatcher after it has delivered its queued events.
// Later Subscribe calls fail with ErrBusClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscription
	for _, subs := range h.subs {
		all = append(all, subs...)
	}
	h.subs = make(map[Category][]*Subscription)
	h.count = 0
	h.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
	h.wg.Wait()
}

func (h *Hub) remove(target *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[target.category]
	result := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if s != target {
			result = append(result, s)
		}
	}
	if len(result) != len(subs) {
		h.count--
	}
	h.subs[target.category] = result
}

// ──────────────────────────────────────────────────────────────────────────────
// Convenience Methods
// ──────────────────────────────────────────────────────────────────────────────

// EmitSystem publishes a generic system event.
func (h *Hub) EmitSystem(source, message string, fields map[string]string) {
	h.Publish(Event{
		Kind:   KindSystemGeneric,
		Source: source,
		Data:   SystemData{Message: message, Fields: fields},
	})
}

// EmitLinkState publishes a link state change.
func (h *Hub) EmitLinkState(data LinkStateData) {
	h.Publish(Event{
		Kind:   KindLinkStateChanged,
		Source: "link",
		Data:   data,
	})
}

// EmitLease publishes one of the KindIP* events.
func (h *Hub) EmitLease(kind Kind, source string, data LeaseData) {
	h.Publish(Event{
		Kind:   kind,
		Source: source,
		Data:   data,
	})
}
