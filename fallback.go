package xstream

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Fallback connector.
const (
	FallbackProcessedTotal = metricz.Key("fallback.processed.total")
	FallbackAttemptsTotal  = metricz.Key("fallback.attempts.total")
	FallbackFailuresTotal  = metricz.Key("fallback.failures.total")

	FallbackProcessSpan = tracez.Key("fallback.process")

	FallbackTagProcessorIndex = tracez.Tag("fallback.processor_index")
	FallbackTagProcessorName  = tracez.Tag("fallback.processor_name")
	FallbackTagSuccess        = tracez.Tag("fallback.success")
	FallbackTagError          = tracez.Tag("fallback.error")

	FallbackEventAttempt = hookz.Key("fallback.attempt")
	FallbackEventFailed  = hookz.Key("fallback.failed")
)

// ErrNoProcessors is returned by a Fallback with nothing to try.
var ErrNoProcessors = errors.New("no processors configured")

// FallbackEvent is emitted for every attempt and once more when every
// processor failed.
type FallbackEvent struct {
	Timestamp     time.Time // When the event occurred
	Error         error     // Error of the attempt (or the last one, for failed)
	Name          Name      // Connector name
	ProcessorName Name      // Processor attempted
	Index         int       // Position of the processor in the chain
	Success       bool      // Whether the attempt succeeded
}

// Fallback tries its processors in order on the same input and returns the
// first successful result. A typical use is a strict chain backed by a
// lenient one:
//
//	fb := xstream.NewFallback("config",
//	    xstream.NewSequence("strict", xstream.ValidateStep("validate"), xstream.ForkStep("fork", xstream.All())),
//	    xstream.Transform("raw", func(_ context.Context, s string) string { return xstream.FilterTokens(s, "") }),
//	)
type Fallback struct {
	processors []Chainable
	clock      clockz.Clock
	metrics    *metricz.Registry
	tracer     *tracez.Tracer
	hooks      *hookz.Hooks[FallbackEvent]
	name       Name
	mu         sync.RWMutex
}

// NewFallback creates a Fallback over processors.
func NewFallback(name Name, processors ...Chainable) *Fallback {
	metrics := metricz.New()
	metrics.Counter(FallbackProcessedTotal)
	metrics.Counter(FallbackAttemptsTotal)
	metrics.Counter(FallbackFailuresTotal)

	return &Fallback{
		name:       name,
		processors: slices.Clone(processors),
		clock:      clockz.RealClock,
		metrics:    metrics,
		tracer:     tracez.New(),
		hooks:      hookz.New[FallbackEvent](),
	}
}

// Process implements Chainable. When every processor fails the last error
// is returned with this connector's name prepended to its path.
func (f *Fallback) Process(ctx context.Context, input string) (result string, err error) {
	defer recoverFromPanic(&result, &err, f.name, input)

	f.mu.RLock()
	processors := slices.Clone(f.processors)
	clock := f.getClock()
	f.mu.RUnlock()

	f.metrics.Counter(FallbackProcessedTotal).Inc()
	start := clock.Now()

	ctx, span := f.tracer.StartSpan(ctx, FallbackProcessSpan)
	defer span.Finish()

	if len(processors) == 0 {
		span.SetTag(FallbackTagSuccess, "false")
		return input, wrapError(f.name, input, ErrNoProcessors, start, clock.Now())
	}

	var lastErr error
	for i, proc := range processors {
		f.metrics.Counter(FallbackAttemptsTotal).Inc()

		out, procErr := proc.Process(ctx, input)
		_ = f.hooks.Emit(ctx, FallbackEventAttempt, FallbackEvent{ //nolint:errcheck
			Name:          f.name,
			ProcessorName: proc.Name(),
			Index:         i,
			Success:       procErr == nil,
			Error:         procErr,
			Timestamp:     clock.Now(),
		})
		if procErr == nil {
			span.SetTag(FallbackTagProcessorIndex, strconv.Itoa(i))
			span.SetTag(FallbackTagProcessorName, proc.Name())
			span.SetTag(FallbackTagSuccess, "true")
			return out, nil
		}
		lastErr = procErr
	}

	f.metrics.Counter(FallbackFailuresTotal).Inc()
	span.SetTag(FallbackTagSuccess, "false")
	span.SetTag(FallbackTagError, lastErr.Error())
	_ = f.hooks.Emit(ctx, FallbackEventFailed, FallbackEvent{ //nolint:errcheck
		Name:      f.name,
		Index:     len(processors) - 1,
		Error:     lastErr,
		Timestamp: clock.Now(),
	})
	return input, wrapError(f.name, input, lastErr, start, clock.Now())
}

// AddFallback appends a processor to the end of the chain.
func (f *Fallback) AddFallback(processor Chainable) *Fallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processors = append(f.processors, processor)
	return f
}

// SetProcessors replaces the whole chain.
func (f *Fallback) SetProcessors(processors ...Chainable) *Fallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processors = slices.Clone(processors)
	return f
}

// Processors returns a copy of the chain in order.
func (f *Fallback) Processors() []Chainable {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.processors)
}

// Len returns the number of processors in the chain.
func (f *Fallback) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.processors)
}

// Name returns the name of this fallback.
func (f *Fallback) Name() Name {
	return f.name
}

// WithClock sets the clock used for event timestamps.
func (f *Fallback) WithClock(clock clockz.Clock) *Fallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = clock
	return f
}

func (f *Fallback) getClock() clockz.Clock {
	if f.clock == nil {
		return clockz.RealClock
	}
	return f.clock
}

// Metrics returns the metrics registry for this connector.
func (f *Fallback) Metrics() *metricz.Registry {
	return f.metrics
}

// Tracer returns the tracer for this connector.
func (f *Fallback) Tracer() *tracez.Tracer {
	return f.tracer
}

// Close shuts down the tracer and hooks.
func (f *Fallback) Close() error {
	if f.tracer != nil {
		f.tracer.Close()
	}
	f.hooks.Close()
	return nil
}

// OnAttempt registers a handler called after every attempt.
func (f *Fallback) OnAttempt(handler func(context.Context, FallbackEvent) error) error {
	_, err := f.hooks.Hook(FallbackEventAttempt, handler)
	return err
}

// OnFailed registers a handler called when every processor failed.
func (f *Fallback) OnFailed(handler func(context.Context, FallbackEvent) error) error {
	_, err := f.hooks.Hook(FallbackEventFailed, handler)
	return err
}
