package xstream

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Filter connector.
const (
	FilterProcessedTotal = metricz.Key("filter.processed.total")
	FilterPassedTotal    = metricz.Key("filter.passed.total")
	FilterSkippedTotal   = metricz.Key("filter.skipped.total")

	FilterProcessSpan = tracez.Key("filter.process")

	FilterTagConnector    = tracez.Tag("filter.connector")
	FilterTagConditionMet = tracez.Tag("filter.condition_met")
	FilterTagSuccess      = tracez.Tag("filter.success")
	FilterTagError        = tracez.Tag("filter.error")

	FilterEventPassed  = hookz.Key("filter.passed")
	FilterEventSkipped = hookz.Key("filter.skipped")
)

// FilterEvent is emitted when a Filter either runs its processor or skips it.
type FilterEvent struct {
	Timestamp     time.Time     // When the event occurred
	Error         error         // Error if processor failed
	Name          Name          // Connector name
	ProcessorName Name          // Name of processor (if executed)
	Duration      time.Duration // Processing time (if executed)
	ConditionMet  bool          // Whether the condition was met
	Success       bool          // Whether processor succeeded (if executed)
}

// Filter runs its processor only when the condition holds and otherwise
// passes the stream through unchanged.
//
// Example:
//
//	scrub := xstream.NewFilter("db-only",
//	    xstream.HasNamespace("db"),
//	    xstream.ForkStep("db", xstream.Under("db")),
//	)
type Filter struct {
	processor Chainable
	condition func(context.Context, string) bool
	clock     clockz.Clock
	metrics   *metricz.Registry
	tracer    *tracez.Tracer
	hooks     *hookz.Hooks[FilterEvent]
	name      Name
	mu        sync.RWMutex
}

// NewFilter creates a Filter.
func NewFilter(name Name, condition func(context.Context, string) bool, processor Chainable) *Filter {
	registry := metricz.New()
	registry.Counter(FilterProcessedTotal)
	registry.Counter(FilterPassedTotal)
	registry.Counter(FilterSkippedTotal)

	return &Filter{
		name:      name,
		condition: condition,
		processor: processor,
		clock:     clockz.RealClock,
		metrics:   registry,
		tracer:    tracez.New(),
		hooks:     hookz.New[FilterEvent](),
	}
}

// Process implements Chainable.
func (f *Filter) Process(ctx context.Context, input string) (result string, err error) {
	defer recoverFromPanic(&result, &err, f.name, input)

	f.mu.RLock()
	condition := f.condition
	processor := f.processor
	clock := f.getClock()
	f.mu.RUnlock()

	ctx, span := f.tracer.StartSpan(ctx, FilterProcessSpan)
	defer span.Finish()
	span.SetTag(FilterTagConnector, f.name)

	f.metrics.Counter(FilterProcessedTotal).Inc()

	met := condition(ctx, input)
	span.SetTag(FilterTagConditionMet, strconv.FormatBool(met))

	if !met {
		f.metrics.Counter(FilterSkippedTotal).Inc()
		span.SetTag(FilterTagSuccess, "true")
		_ = f.hooks.Emit(ctx, FilterEventSkipped, FilterEvent{ //nolint:errcheck
			Name:      f.name,
			Timestamp: clock.Now(),
		})
		return input, nil
	}

	f.metrics.Counter(FilterPassedTotal).Inc()

	start := clock.Now()
	result, err = processor.Process(ctx, input)
	duration := clock.Since(start)

	_ = f.hooks.Emit(ctx, FilterEventPassed, FilterEvent{ //nolint:errcheck
		Name:          f.name,
		ConditionMet:  true,
		ProcessorName: processor.Name(),
		Success:       err == nil,
		Error:         err,
		Duration:      duration,
		Timestamp:     clock.Now(),
	})

	if err != nil {
		span.SetTag(FilterTagSuccess, "false")
		span.SetTag(FilterTagError, err.Error())
		return input, wrapError(f.name, input, err, start, clock.Now())
	}

	span.SetTag(FilterTagSuccess, "true")
	return result, nil
}

// HasNamespace holds when the stream parses and stores pairs in name.
func HasNamespace(name string) func(context.Context, string) bool {
	return func(_ context.Context, input string) bool {
		b, err := Parse(input, Hybrid)
		return err == nil && b.Has(name)
	}
}

// ContainsText holds when the raw stream contains substr.
func ContainsText(substr string) func(context.Context, string) bool {
	return func(_ context.Context, input string) bool {
		return strings.Contains(input, substr)
	}
}

// HasMinTokens holds when the stream parses and stores at least n pairs.
func HasMinTokens(n int) func(context.Context, string) bool {
	return func(_ context.Context, input string) bool {
		b, err := Parse(input, Hybrid)
		return err == nil && b.Len() >= n
	}
}

// SetCondition replaces the condition.
func (f *Filter) SetCondition(condition func(context.Context, string) bool) *Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.condition = condition
	return f
}

// SetProcessor replaces the processor.
func (f *Filter) SetProcessor(processor Chainable) *Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processor = processor
	return f
}

// Processor returns the current processor.
func (f *Filter) Processor() Chainable {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.processor
}

// Name returns the name of this filter.
func (f *Filter) Name() Name {
	return f.name
}

// WithClock sets the clock used for durations and event timestamps.
func (f *Filter) WithClock(clock clockz.Clock) *Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = clock
	return f
}

func (f *Filter) getClock() clockz.Clock {
	if f.clock == nil {
		return clockz.RealClock
	}
	return f.clock
}

// Metrics returns the metrics registry for this connector.
func (f *Filter) Metrics() *metricz.Registry {
	return f.metrics
}

// Tracer returns the tracer for this connector.
func (f *Filter) Tracer() *tracez.Tracer {
	return f.tracer
}

// Close shuts down the tracer and hooks.
func (f *Filter) Close() error {
	if f.tracer != nil {
		f.tracer.Close()
	}
	f.hooks.Close()
	return nil
}

// OnPassed registers a handler called after the processor ran.
func (f *Filter) OnPassed(handler func(context.Context, FilterEvent) error) error {
	_, err := f.hooks.Hook(FilterEventPassed, handler)
	return err
}

// OnSkipped registers a handler called when the condition did not hold.
func (f *Filter) OnSkipped(handler func(context.Context, FilterEvent) error) error {
	_, err := f.hooks.Hook(FilterEventSkipped, handler)
	return err
}
