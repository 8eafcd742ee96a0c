// Package monitor holds the readiness channel, the one-shot connectivity
// prober and the liveness monitor that runs after bring-up.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/linkup/internal/clock"
	"grimm.is/linkup/internal/metrics"
)

// Signal is a readiness notification.
type Signal int

const (
	// SignalIPAssigned reports that the interface holds an IPv4 lease.
	SignalIPAssigned Signal = iota + 1
)

func (s Signal) String() string {
	switch s {
	case SignalIPAssigned:
		return "ip-assigned"
	default:
		return "unknown"
	}
}

// DefaultReadinessCapacity is the buffer size used when none is given.
const DefaultReadinessCapacity = 16

var (
	ErrRecvTimeout     = errors.New("readiness: receive timed out")
	ErrReadinessClosed = errors.New("readiness: channel closed")
)

// Readiness is a FIFO of readiness signals with many senders and one
// receiver. Send never blocks.
type Readiness struct {
	ch      chan Signal
	clock   clock.Clock
	metrics *metrics.Registry

	mu     sync.Mutex
	closed bool

	first     chan struct{}
	firstOnce sync.Once

	accepted atomic.Uint64
	dropped  atomic.Uint64
	lastSent atomic.Int64 // unix nanos
}

// ReadinessOption configures a Readiness.
type ReadinessOption func(*Readiness)

// WithReadinessClock sets the clock used by the timed receives.
func WithReadinessClock(c clock.Clock) ReadinessOption {
	return func(r *Readiness) { r.clock = c }
}

// WithReadinessMetrics counts accepted and dropped signals.
func WithReadinessMetrics(m *metrics.Registry) ReadinessOption {
	return func(r *Readiness) { r.metrics = m }
}

// NewReadiness creates a channel holding up to capacity pending signals.
func NewReadiness(capacity int, opts ...ReadinessOption) *Readiness {
	if capacity <= 0 {
		capacity = DefaultReadinessCapacity
	}
	r := &Readiness{
		ch:    make(chan Signal, capacity),
		clock: clock.Default(),
		first: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send offers s to the channel. It reports false when the signal was dropped
// because the buffer is full or the channel is closed.
func (r *Readiness) Send(s Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.drop()
		return false
	}
	select {
	case r.ch <- s:
		r.accepted.Add(1)
		r.lastSent.Store(r.clock.Now().UnixNano())
		r.firstOnce.Do(func() { close(r.first) })
		if r.metrics != nil {
			r.metrics.ReadinessSignals.WithLabelValues("accepted").Inc()
		}
		return true
	default:
		r.drop()
		return false
	}
}

func (r *Readiness) drop() {
	r.dropped.Add(1)
	if r.metrics != nil {
		r.metrics.ReadinessSignals.WithLabelValues("dropped").Inc()
	}
}

// RecvTimeout waits up to d for the next signal.
func (r *Readiness) RecvTimeout(d time.Duration) (Signal, error) {
	return r.Recv(context.Background(), d)
}

// Recv waits up to d for the next signal, or until ctx is done.
func (r *Readiness) Recv(ctx context.Context, d time.Duration) (Signal, error) {
	// A pending signal wins over an expired window.
	select {
	case s, ok := <-r.ch:
		if !ok {
			return 0, ErrReadinessClosed
		}
		return s, nil
	default:
	}

	select {
	case s, ok := <-r.ch:
		if !ok {
			return 0, ErrReadinessClosed
		}
		return s, nil
	case <-r.clock.After(d):
		return 0, ErrRecvTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Seen reports whether any signal was ever accepted.
func (r *Readiness) Seen() bool {
	select {
	case <-r.first:
		return true
	default:
		return false
	}
}

// WaitFirst waits up to d for the first accepted signal without consuming
// it. It returns immediately once one has been seen.
func (r *Readiness) WaitFirst(d time.Duration) error {
	if r.Seen() {
		return nil
	}
	select {
	case <-r.first:
		return nil
	case <-r.clock.After(d):
		if r.Seen() {
			return nil
		}
		return ErrRecvTimeout
	}
}

// Count returns the number of accepted signals.
func (r *Readiness) Count() uint64 { return r.accepted.Load() }

// Dropped returns the number of signals dropped by Send.
func (r *Readiness) Dropped() uint64 { return r.dropped.Load() }

// LastSent returns when the most recent signal was accepted, or the zero
// time if none was.
func (r *Readiness) LastSent() time.Time {
	ns := r.lastSent.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Len returns the number of pending signals.
func (r *Readiness) Len() int { return len(r.ch) }

// Close closes the channel. Pending signals can still be received; later
// sends are dropped.
func (r *Readiness) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}
