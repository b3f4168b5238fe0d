package xstream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Sequence connector.
const (
	// Metrics.
	SequenceProcessedTotal  = metricz.Key("sequence.processed.total")
	SequenceSuccessesTotal  = metricz.Key("sequence.successes.total")
	SequenceFailuresTotal   = metricz.Key("sequence.failures.total")
	SequenceBlockedTotal    = metricz.Key("sequence.blocked.total")
	SequenceStagesCompleted = metricz.Key("sequence.stages.completed")
	SequenceStagesTotal     = metricz.Key("sequence.stages.total")
	SequenceDurationMs      = metricz.Key("sequence.duration.ms")

	// Spans.
	SequenceProcessSpan = tracez.Key("sequence.process")
	SequenceStageSpan   = tracez.Key("sequence.stage")

	// Tags.
	SequenceTagRunID         = tracez.Tag("sequence.run_id")
	SequenceTagStageCount    = tracez.Tag("sequence.stage_count")
	SequenceTagStageNumber   = tracez.Tag("sequence.stage_number")
	SequenceTagProcessorName = tracez.Tag("sequence.processor_name")
	SequenceTagSuccess       = tracez.Tag("sequence.success")
	SequenceTagError         = tracez.Tag("sequence.error")

	// Hook event keys.
	SequenceEventStageComplete = hookz.Key("sequence.stage_complete")
	SequenceEventAllComplete   = hookz.Key("sequence.all_complete")
)

// Sequence modification errors.
var (
	ErrEmptySequence     = errors.New("sequence is empty")
	ErrProcessorNotFound = errors.New("processor not found")
)

// SequenceEvent is emitted through hooks as stages complete and when a whole
// run succeeds. Every event of one Process call carries the same RunID.
type SequenceEvent struct {
	Timestamp       time.Time     // When the event occurred
	Error           error         // Error if stage failed
	RunID           string        // Identifier shared by all events of one run
	Name            Name          // Connector name
	StageName       Name          // Name of the stage processor
	StageNumber     int           // Current stage number (1-based)
	TotalStages     int           // Total number of stages
	CompletedStages int           // Number of stages completed (for all_complete)
	Duration        time.Duration // How long this stage took
	TotalDuration   time.Duration // Total time for all stages (for all_complete)
	Blocked         bool          // Whether the stage produced an empty stream
	Success         bool          // Whether the stage succeeded
}

// Sequence runs its steps in order, feeding each step's output to the next.
// Execution is fail-fast and the context is checked before every stage. An
// empty stream is passed on like any other value, so later gates see it as
// blocked.
//
// Steps can be added, removed and reordered while the sequence is in use;
// each Process call works on a snapshot of the step list.
//
// # Observability
//
// Metrics:
//   - sequence.processed.total: Counter of runs
//   - sequence.successes.total: Counter of successful runs
//   - sequence.failures.total: Counter of failed runs
//   - sequence.blocked.total: Counter of successful runs with empty output
//   - sequence.stages.completed: Gauge of stages completed in the last run
//   - sequence.stages.total: Gauge of stages in the last run
//   - sequence.duration.ms: Gauge of the last run's duration
//
// Traces:
//   - sequence.process: Parent span for the run, tagged with its run ID
//   - sequence.stage: Child span per stage
//
// Events:
//   - sequence.stage_complete: Fired as each stage completes
//   - sequence.all_complete: Fired when every stage succeeded
//
// Example:
//
//	seq := xstream.NewSequence("config",
//	    xstream.ValidateStep("validate"),
//	    xstream.ForkStep("split", xstream.Under("db")),
//	    xstream.GateLinesStep("non-trivial", 2),
//	    xstream.MergeStep("join", xstream.Concat()),
//	)
//	out, err := seq.Process(ctx, input)
type Sequence struct {
	clock      clockz.Clock
	metrics    *metricz.Registry
	tracer     *tracez.Tracer
	hooks      *hookz.Hooks[SequenceEvent]
	name       Name
	processors []Chainable
	mu         sync.RWMutex
}

// NewSequence creates a Sequence with optional initial steps.
func NewSequence(name Name, processors ...Chainable) *Sequence {
	metrics := metricz.New()
	metrics.Counter(SequenceProcessedTotal)
	metrics.Counter(SequenceSuccessesTotal)
	metrics.Counter(SequenceFailuresTotal)
	metrics.Counter(SequenceBlockedTotal)
	metrics.Gauge(SequenceStagesCompleted)
	metrics.Gauge(SequenceStagesTotal)
	metrics.Gauge(SequenceDurationMs)

	return &Sequence{
		name:       name,
		processors: slices.Clone(processors),
		clock:      clockz.RealClock,
		metrics:    metrics,
		tracer:     tracez.New(),
		hooks:      hookz.New[SequenceEvent](),
	}
}

// Process runs every step on input. A failing step stops the run and its
// error is returned as an *Error with this sequence's name prepended to the
// path.
func (c *Sequence) Process(ctx context.Context, input string) (result string, err error) {
	defer recoverFromPanic(&result, &err, c.name, input)

	c.mu.RLock()
	processors := slices.Clone(c.processors)
	clock := c.getClock()
	c.mu.RUnlock()

	if ctx == nil {
		ctx = context.Background()
	}

	runID := uuid.NewString()
	c.metrics.Counter(SequenceProcessedTotal).Inc()
	c.metrics.Gauge(SequenceStagesTotal).Set(float64(len(processors)))
	start := clock.Now()

	ctx, span := c.tracer.StartSpan(ctx, SequenceProcessSpan)
	span.SetTag(SequenceTagRunID, runID)
	span.SetTag(SequenceTagStageCount, strconv.Itoa(len(processors)))
	defer func() {
		c.metrics.Gauge(SequenceDurationMs).Set(float64(clock.Since(start).Milliseconds()))
		if err == nil {
			span.SetTag(SequenceTagSuccess, "true")
			c.metrics.Counter(SequenceSuccessesTotal).Inc()
			if result == "" {
				c.metrics.Counter(SequenceBlockedTotal).Inc()
			}
		} else {
			span.SetTag(SequenceTagSuccess, "false")
			span.SetTag(SequenceTagError, err.Error())
			c.metrics.Counter(SequenceFailuresTotal).Inc()
		}
		span.Finish()
	}()

	result = input
	completed := 0

	for i, proc := range processors {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, &Error{
				Timestamp: clock.Now(),
				Err:       ctxErr,
				Input:     input,
				Path:      []Name{c.name},
				Duration:  clock.Since(start),
				Timeout:   errors.Is(ctxErr, context.DeadlineExceeded),
				Canceled:  errors.Is(ctxErr, context.Canceled),
			}
		}

		stageCtx, stageSpan := c.tracer.StartSpan(ctx, SequenceStageSpan)
		stageSpan.SetTag(SequenceTagRunID, runID)
		stageSpan.SetTag(SequenceTagStageNumber, strconv.Itoa(i+1))
		stageSpan.SetTag(SequenceTagProcessorName, proc.Name())

		stageStart := clock.Now()
		var out string
		out, err = proc.Process(stageCtx, result)
		stageDuration := clock.Since(stageStart)
		stageSpan.Finish()

		_ = c.hooks.Emit(ctx, SequenceEventStageComplete, SequenceEvent{ //nolint:errcheck
			Name:        c.name,
			RunID:       runID,
			StageName:   proc.Name(),
			StageNumber: i + 1,
			TotalStages: len(processors),
			Success:     err == nil,
			Blocked:     err == nil && out == "",
			Error:       err,
			Duration:    stageDuration,
			Timestamp:   clock.Now(),
		})

		if err != nil {
			return result, wrapError(c.name, result, err, stageStart, clock.Now())
		}
		result = out
		completed++
		c.metrics.Gauge(SequenceStagesCompleted).Set(float64(completed))
	}

	_ = c.hooks.Emit(ctx, SequenceEventAllComplete, SequenceEvent{ //nolint:errcheck
		Name:            c.name,
		RunID:           runID,
		TotalStages:     len(processors),
		CompletedStages: completed,
		TotalDuration:   clock.Since(start),
		Success:         true,
		Blocked:         result == "",
		Timestamp:       clock.Now(),
	})

	return result, nil
}

// Register appends steps to the sequence.
func (c *Sequence) Register(processors ...Chainable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors = append(c.processors, processors...)
}

// PushHead adds steps to the front of the sequence (runs first).
func (c *Sequence) PushHead(processors ...Chainable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors = slices.Insert(c.processors, 0, processors...)
}

// PushTail adds steps to the back of the sequence (runs last).
func (c *Sequence) PushTail(processors ...Chainable) {
	c.Register(processors...)
}

// PopHead removes and returns the first step.
func (c *Sequence) PopHead() (Chainable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.processors) == 0 {
		return nil, ErrEmptySequence
	}
	head := c.processors[0]
	c.processors = slices.Delete(c.processors, 0, 1)
	return head, nil
}

// PopTail removes and returns the last step.
func (c *Sequence) PopTail() (Chainable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.processors) == 0 {
		return nil, ErrEmptySequence
	}
	last := len(c.processors) - 1
	tail := c.processors[last]
	c.processors = c.processors[:last]
	return tail, nil
}

func (c *Sequence) indexOf(name Name) (int, error) {
	for i, proc := range c.processors {
		if proc.Name() == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrProcessorNotFound, name)
}

// Remove removes the first step with the given name.
func (c *Sequence) Remove(name Name) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.indexOf(name)
	if err != nil {
		return err
	}
	c.processors = slices.Delete(c.processors, i, i+1)
	return nil
}

// Replace swaps the first step with the given name for processor.
func (c *Sequence) Replace(name Name, processor Chainable) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.indexOf(name)
	if err != nil {
		return err
	}
	c.processors[i] = processor
	return nil
}

// After inserts steps after the first step with the given name.
func (c *Sequence) After(name Name, processors ...Chainable) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.indexOf(name)
	if err != nil {
		return err
	}
	c.processors = slices.Insert(c.processors, i+1, processors...)
	return nil
}

// Before inserts steps before the first step with the given name.
func (c *Sequence) Before(name Name, processors ...Chainable) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.indexOf(name)
	if err != nil {
		return err
	}
	c.processors = slices.Insert(c.processors, i, processors...)
	return nil
}

// Clear removes every step.
func (c *Sequence) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors = nil
}

// Len returns the number of steps.
func (c *Sequence) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.processors)
}

// Names returns the step names in execution order.
func (c *Sequence) Names() []Name {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]Name, len(c.processors))
	for i, proc := range c.processors {
		names[i] = proc.Name()
	}
	return names
}

// Name returns the name of this sequence.
func (c *Sequence) Name() Name {
	return c.name
}

// WithClock sets the clock used for durations and event timestamps.
func (c *Sequence) WithClock(clock clockz.Clock) *Sequence {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
	return c
}

func (c *Sequence) getClock() clockz.Clock {
	if c.clock == nil {
		return clockz.RealClock
	}
	return c.clock
}

// Metrics returns the metrics registry for this connector.
func (c *Sequence) Metrics() *metricz.Registry {
	return c.metrics
}

// Tracer returns the tracer for this connector.
func (c *Sequence) Tracer() *tracez.Tracer {
	return c.tracer
}

// Close shuts down the tracer and hooks.
func (c *Sequence) Close() error {
	if c.tracer != nil {
		c.tracer.Close()
	}
	c.hooks.Close()
	return nil
}

// OnStageComplete registers a handler called asynchronously after every
// stage, whether it succeeded or failed.
func (c *Sequence) OnStageComplete(handler func(context.Context, SequenceEvent) error) error {
	_, err := c.hooks.Hook(SequenceEventStageComplete, handler)
	return err
}

// OnAllComplete registers a handler called asynchronously after a run in
// which every stage succeeded.
func (c *Sequence) OnAllComplete(handler func(context.Context, SequenceEvent) error) error {
	_, err := c.hooks.Hook(SequenceEventAllComplete, handler)
	return err
}
