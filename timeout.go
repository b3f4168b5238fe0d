package xstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/metricz"
)

// Observability constants for the Timeout connector.
const (
	TimeoutProcessedTotal = metricz.Key("timeout.processed.total")
	TimeoutTimeoutsTotal  = metricz.Key("timeout.timeouts.total")
)

// Timeout bounds the time a processor may spend on one stream. When the
// deadline passes first the original input is returned with an *Error whose
// Timeout flag is set; the processor keeps running until it notices its
// context is done.
//
//	bounded := xstream.NewTimeout("bounded", slowStep, 50*time.Millisecond)
type Timeout struct {
	processor Chainable
	clock     clockz.Clock
	metrics   *metricz.Registry
	name      Name
	duration  time.Duration
	mu        sync.RWMutex
}

// NewTimeout creates a Timeout around processor.
func NewTimeout(name Name, processor Chainable, duration time.Duration) *Timeout {
	metrics := metricz.New()
	metrics.Counter(TimeoutProcessedTotal)
	metrics.Counter(TimeoutTimeoutsTotal)

	return &Timeout{
		name:      name,
		processor: processor,
		duration:  duration,
		clock:     clockz.RealClock,
		metrics:   metrics,
	}
}

// Process implements Chainable.
func (t *Timeout) Process(ctx context.Context, input string) (result string, err error) {
	defer recoverFromPanic(&result, &err, t.name, input)

	t.mu.RLock()
	processor := t.processor
	duration := t.duration
	clock := t.getClock()
	t.mu.RUnlock()

	t.metrics.Counter(TimeoutProcessedTotal).Inc()
	start := clock.Now()

	ctx, cancel := clock.WithTimeout(ctx, duration)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() { done <- o }()
		defer recoverFromPanic(&o.result, &o.err, processor.Name(), input)
		o.result, o.err = processor.Process(ctx, input)
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				t.metrics.Counter(TimeoutTimeoutsTotal).Inc()
			}
			return input, wrapError(t.name, input, o.err, start, clock.Now())
		}
		return o.result, nil
	case <-ctx.Done():
		t.metrics.Counter(TimeoutTimeoutsTotal).Inc()
		return input, wrapError(t.name, input, ctx.Err(), start, clock.Now())
	}
}

// SetDuration changes the limit for later calls.
func (t *Timeout) SetDuration(d time.Duration) *Timeout {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duration = d
	return t
}

// Duration returns the current limit.
func (t *Timeout) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.duration
}

// Name returns the name of this connector.
func (t *Timeout) Name() Name {
	return t.name
}

// WithClock sets the clock that drives the deadline.
func (t *Timeout) WithClock(clock clockz.Clock) *Timeout {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock = clock
	return t
}

func (t *Timeout) getClock() clockz.Clock {
	if t.clock == nil {
		return clockz.RealClock
	}
	return t.clock
}

// Metrics returns the metrics registry for this connector.
func (t *Timeout) Metrics() *metricz.Registry {
	return t.metrics
}
