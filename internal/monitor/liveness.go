package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"grimm.is/linkup/internal/clock"
	"grimm.is/linkup/internal/logging"
	"grimm.is/linkup/internal/metrics"
)

// DefaultWindow is the longest silence the monitor tolerates.
const DefaultWindow = 5 * time.Second

var ErrLivenessTimeout = errors.New("liveness: no readiness signal within window")

// Source is the receiving side of the readiness channel.
type Source interface {
	Recv(ctx context.Context, d time.Duration) (Signal, error)
}

// Liveness treats every window without a readiness signal as a failure.
type Liveness struct {
	source  Source
	window  time.Duration
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Registry

	received atomic.Uint64
}

// LivenessOption configures a Liveness.
type LivenessOption func(*Liveness)

// WithLivenessClock sets the clock used for the last-signal gauge.
func WithLivenessClock(c clock.Clock) LivenessOption {
	return func(l *Liveness) { l.clock = c }
}

// WithLivenessMetrics records timeouts and the last signal time.
func WithLivenessMetrics(m *metrics.Registry) LivenessOption {
	return func(l *Liveness) { l.metrics = m }
}

// WithLivenessLogger overrides the component logger.
func WithLivenessLogger(lg *logging.Logger) LivenessOption {
	return func(l *Liveness) { l.logger = lg }
}

// NewLiveness creates a monitor over src. A non-positive window uses
// DefaultWindow.
func NewLiveness(src Source, window time.Duration, opts ...LivenessOption) *Liveness {
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Liveness{
		source: src,
		window: window,
		clock:  clock.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logging.WithComponent("liveness")
	}
	return l
}

// Window returns the configured silence bound.
func (l *Liveness) Window() time.Duration { return l.window }

// Received returns how many signals Run consumed.
func (l *Liveness) Received() uint64 { return l.received.Load() }

// Run blocks until a window passes in silence, which returns an error
// wrapping ErrLivenessTimeout. Cancelling ctx returns ctx.Err().
func (l *Liveness) Run(ctx context.Context) error {
	l.logger.Info("Monitoring", "window", l.window)

	for {
		sig, err := l.source.Recv(ctx, l.window)
		switch {
		case err == nil:
			n := l.received.Add(1)
			l.logger.Debug("Readiness signal", "signal", sig.String(), "total", n)
			if l.metrics != nil {
				l.metrics.LastSignal.Set(float64(l.clock.Now().Unix()))
			}
		case errors.Is(err, ErrRecvTimeout):
			if l.metrics != nil {
				l.metrics.LivenessTimeouts.Inc()
			}
			l.logger.Error("Liveness window elapsed", "window", l.window, "received", l.received.Load())
			return fmt.Errorf("%w (%s)", ErrLivenessTimeout, l.window)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fmt.Errorf("liveness: %w", err)
		}
	}
}
