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

// Observability constants for the Batch connector.
const (
	BatchProcessedTotal = metricz.Key("batch.processed.total")
	BatchSuccessesTotal = metricz.Key("batch.successes.total")
	BatchStreamsTotal   = metricz.Key("batch.streams.total")
	BatchBlockedTotal   = metricz.Key("batch.blocked.total")
	BatchWorkersMax     = metricz.Key("batch.workers.max")
	BatchWorkersActive  = metricz.Key("batch.workers.active")
	BatchDurationMs     = metricz.Key("batch.duration.ms")

	BatchProcessSpan = tracez.Key("batch.process")
	BatchStreamSpan  = tracez.Key("batch.stream")

	BatchTagStreamCount   = tracez.Tag("batch.stream_count")
	BatchTagWorkerCount   = tracez.Tag("batch.worker_count")
	BatchTagStreamIndex   = tracez.Tag("batch.stream_index")
	BatchTagProcessorName = tracez.Tag("batch.processor_name")
	BatchTagSuccess       = tracez.Tag("batch.success")
	BatchTagError         = tracez.Tag("batch.error")

	BatchEventStreamComplete = hookz.Key("batch.stream_complete")
	BatchEventAllComplete    = hookz.Key("batch.all_complete")
)

// BatchEvent is emitted per stream and once per batch.
type BatchEvent struct {
	Timestamp     time.Time     // When the event occurred
	Error         error         // Error if the stream failed
	Name          Name          // Connector name
	ProcessorName Name          // Name of the processor
	Index         int           // Stream position in the batch (stream_complete)
	TotalStreams  int           // Streams in the batch (all_complete)
	Failed        int           // Failed streams (all_complete)
	Blocked       int           // Streams that produced empty output (all_complete)
	Duration      time.Duration // Stream or batch duration
	Success       bool          // Whether the stream succeeded
}

// Batch applies one processor to many independent streams with bounded
// parallelism. Process treats its input as forked text and runs the
// processor on the tokens of each line; ProcessAll takes the streams as a
// slice. Results keep input order and the first failure cancels the
// streams that have not started yet.
//
// Example:
//
//	b := xstream.NewBatch("per-namespace", 4, xstream.GateStep("min2", xstream.MinTokens(2)))
//	kept, err := b.Process(ctx, xstream.Fork(input, xstream.All()))
type Batch struct {
	processor Chainable
	clock     clockz.Clock
	metrics   *metricz.Registry
	tracer    *tracez.Tracer
	hooks     *hookz.Hooks[BatchEvent]
	sem       chan struct{}
	name      Name
	timeout   time.Duration
	mu        sync.RWMutex
}

// NewBatch creates a Batch running at most workers streams at once.
// A non-positive worker count means one.
func NewBatch(name Name, workers int, processor Chainable) *Batch {
	if workers <= 0 {
		workers = 1
	}

	metrics := metricz.New()
	metrics.Counter(BatchProcessedTotal)
	metrics.Counter(BatchSuccessesTotal)
	metrics.Counter(BatchStreamsTotal)
	metrics.Counter(BatchBlockedTotal)
	metrics.Gauge(BatchWorkersMax)
	metrics.Gauge(BatchWorkersActive)
	metrics.Gauge(BatchDurationMs)
	metrics.Gauge(BatchWorkersMax).Set(float64(workers))

	return &Batch{
		name:      name,
		processor: processor,
		sem:       make(chan struct{}, workers),
		clock:     clockz.RealClock,
		metrics:   metrics,
		tracer:    tracez.New(),
		hooks:     hookz.New[BatchEvent](),
	}
}

// Process runs the processor on every line of forked text. A line's
// "namespace: " header is stripped before the call and put back on the
// result. Lines whose result is empty are dropped.
func (b *Batch) Process(ctx context.Context, input string) (result string, err error) {
	defer recoverFromPanic(&result, &err, b.name, input)

	var headers, bodies []string
	for _, line := range strings.Split(input, "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		header, body := splitHeader(line)
		headers = append(headers, header)
		bodies = append(bodies, body)
	}

	outs, err := b.ProcessAll(ctx, bodies)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(outs))
	for i, out := range outs {
		if out == "" {
			continue
		}
		if headers[i] != "" {
			out = headers[i] + ": " + out
		}
		lines = append(lines, out)
	}
	return strings.Join(lines, "\n"), nil
}

// ProcessAll runs the processor on each stream and returns the results in
// input order. On failure the first error is returned as an *Error and the
// results are discarded.
func (b *Batch) ProcessAll(ctx context.Context, streams []string) ([]string, error) {
	b.mu.RLock()
	processor := b.processor
	sem := b.sem
	timeout := b.timeout
	clock := b.getClock()
	b.mu.RUnlock()

	if ctx == nil {
		ctx = context.Background()
	}

	b.metrics.Counter(BatchProcessedTotal).Inc()
	start := clock.Now()

	ctx, span := b.tracer.StartSpan(ctx, BatchProcessSpan)
	span.SetTag(BatchTagStreamCount, strconv.Itoa(len(streams)))
	span.SetTag(BatchTagWorkerCount, strconv.Itoa(cap(sem)))
	defer span.Finish()

	eventCtx := context.WithoutCancel(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]string, len(streams))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		failed   int
		blocked  int
	)

	for i, stream := range streams {
		wg.Add(1)
		b.metrics.Counter(BatchStreamsTotal).Inc()

		go func(i int, stream string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				b.metrics.Gauge(BatchWorkersActive).Set(float64(len(sem)))
				defer func() {
					<-sem
					b.metrics.Gauge(BatchWorkersActive).Set(float64(len(sem)))
				}()
			case <-ctx.Done():
				mu.Lock()
				failed++
				if firstErr == nil {
					firstErr = wrapError(b.name, stream, ctx.Err(), start, clock.Now())
				}
				mu.Unlock()
				return
			}

			streamCtx, streamSpan := b.tracer.StartSpan(ctx, BatchStreamSpan)
			streamSpan.SetTag(BatchTagStreamIndex, strconv.Itoa(i))
			streamSpan.SetTag(BatchTagProcessorName, processor.Name())
			defer streamSpan.Finish()

			if timeout > 0 {
				var stop context.CancelFunc
				streamCtx, stop = clock.WithTimeout(streamCtx, timeout)
				defer stop()
			}

			streamStart := clock.Now()
			out, streamErr := b.run(streamCtx, processor, stream)
			duration := clock.Since(streamStart)

			mu.Lock()
			if streamErr != nil {
				failed++
				streamSpan.SetTag(BatchTagError, streamErr.Error())
				if firstErr == nil {
					firstErr = wrapError(b.name, stream, streamErr, streamStart, clock.Now())
					cancel()
				}
			} else {
				results[i] = out
				if out == "" {
					blocked++
					b.metrics.Counter(BatchBlockedTotal).Inc()
				}
			}
			mu.Unlock()

			_ = b.hooks.Emit(eventCtx, BatchEventStreamComplete, BatchEvent{ //nolint:errcheck
				Name:          b.name,
				ProcessorName: processor.Name(),
				Index:         i,
				Success:       streamErr == nil,
				Error:         streamErr,
				Duration:      duration,
				Timestamp:     clock.Now(),
			})
		}(i, stream)
	}

	wg.Wait()

	elapsed := clock.Since(start)
	b.metrics.Gauge(BatchDurationMs).Set(float64(elapsed.Milliseconds()))
	_ = b.hooks.Emit(eventCtx, BatchEventAllComplete, BatchEvent{ //nolint:errcheck
		Name:          b.name,
		ProcessorName: processor.Name(),
		TotalStreams:  len(streams),
		Failed:        failed,
		Blocked:       blocked,
		Duration:      elapsed,
		Success:       firstErr == nil,
		Error:         firstErr,
		Timestamp:     clock.Now(),
	})

	if firstErr != nil {
		span.SetTag(BatchTagSuccess, "false")
		span.SetTag(BatchTagError, firstErr.Error())
		return nil, firstErr
	}
	span.SetTag(BatchTagSuccess, "true")
	b.metrics.Counter(BatchSuccessesTotal).Inc()
	return results, nil
}

// run isolates a single stream so a panicking processor fails only its own
// stream.
func (b *Batch) run(ctx context.Context, processor Chainable, stream string) (result string, err error) {
	defer recoverFromPanic(&result, &err, processor.Name(), stream)
	return processor.Process(ctx, stream)
}

// SetProcessor replaces the processor.
func (b *Batch) SetProcessor(processor Chainable) *Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processor = processor
	return b
}

// SetWorkerCount changes the parallelism limit for later calls.
// Non-positive counts are ignored.
func (b *Batch) SetWorkerCount(workers int) *Batch {
	if workers <= 0 {
		return b
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sem = make(chan struct{}, workers)
	b.metrics.Gauge(BatchWorkersMax).Set(float64(workers))
	return b
}

// WorkerCount returns the parallelism limit.
func (b *Batch) WorkerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cap(b.sem)
}

// WithTimeout bounds each stream's processing time. Zero disables it.
func (b *Batch) WithTimeout(timeout time.Duration) *Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = timeout
	return b
}

// WithClock sets the clock used for durations, timeouts and timestamps.
func (b *Batch) WithClock(clock clockz.Clock) *Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
	return b
}

func (b *Batch) getClock() clockz.Clock {
	if b.clock == nil {
		return clockz.RealClock
	}
	return b.clock
}

// Name returns the name of this batch.
func (b *Batch) Name() Name {
	return b.name
}

// Metrics returns the metrics registry for this connector.
func (b *Batch) Metrics() *metricz.Registry {
	return b.metrics
}

// Tracer returns the tracer for this connector.
func (b *Batch) Tracer() *tracez.Tracer {
	return b.tracer
}

// Close shuts down the tracer and hooks.
func (b *Batch) Close() error {
	if b.tracer != nil {
		b.tracer.Close()
	}
	b.hooks.Close()
	return nil
}

// OnStreamComplete registers a handler called after each stream finishes.
func (b *Batch) OnStreamComplete(handler func(context.Context, BatchEvent) error) error {
	_, err := b.hooks.Hook(BatchEventStreamComplete, handler)
	return err
}

// OnAllComplete registers a handler called once per batch.
func (b *Batch) OnAllComplete(handler func(context.Context, BatchEvent) error) error {
	_, err := b.hooks.Hook(BatchEventAllComplete, handler)
	return err
}
