package xstream

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/tracez"
)

func passThrough(name Name) Processor {
	return Transform(name, func(_ context.Context, s string) string { return s })
}

func TestSequence(t *testing.T) {
	ctx := context.Background()

	t.Run("Pipeline", func(t *testing.T) {
		seq := NewSequence("test",
			ValidateStep("validate"),
			ForkStep("split", Under("db")),
			GateLinesStep("keep", 1),
			MergeStep("join", Sort()),
		)
		defer seq.Close()

		got, err := seq.Process(ctx, `db:host="a"; db.replica:host="b"; debug="true"`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := `db.replica:host="b"; db:host="a"`
		if got != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}
	})

	t.Run("Empty Sequence Returns Input", func(t *testing.T) {
		seq := NewSequence("test")
		defer seq.Close()
		got, err := seq.Process(ctx, `a="1"`)
		if err != nil || got != `a="1"` {
			t.Errorf("unexpected result %q (%v)", got, err)
		}
	})

	t.Run("Blocked Stream Flows On", func(t *testing.T) {
		seq := NewSequence("test",
			GateStep("gate", MinTokens(5)),
			GateStep("after", MinTokens(0)),
		)
		defer seq.Close()

		got, err := seq.Process(ctx, `a="1"`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "" {
			t.Errorf("expected blocked stream, got %q", got)
		}
		if v := seq.Metrics().Counter(SequenceBlockedTotal).Value(); v != 1 {
			t.Errorf("expected 1 blocked run, got %f", v)
		}
	})

	t.Run("Fail Fast With Path", func(t *testing.T) {
		var ran bool
		seq := NewSequence("test",
			ValidateStep("validate"),
			Transform("never", func(_ context.Context, s string) string { ran = true; return s }),
		)
		defer seq.Close()

		_, err := seq.Process(ctx, `bad token`)
		var streamErr *Error
		if !errors.As(err, &streamErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if !reflect.DeepEqual(streamErr.Path, []Name{"test", "validate"}) {
			t.Errorf("expected path [test validate], got %v", streamErr.Path)
		}
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Errorf("expected *ParseError in chain, got %v", err)
		}
		if ran {
			t.Error("expected later stages to be skipped")
		}
	})

	t.Run("Nested Sequence Path", func(t *testing.T) {
		inner := NewSequence("inner", ValidateStep("validate"))
		outer := NewSequence("outer", inner)
		defer inner.Close()
		defer outer.Close()

		_, err := outer.Process(ctx, "x")
		var streamErr *Error
		if !errors.As(err, &streamErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if !reflect.DeepEqual(streamErr.Path, []Name{"outer", "inner", "validate"}) {
			t.Errorf("unexpected path %v", streamErr.Path)
		}
	})

	t.Run("Canceled Context", func(t *testing.T) {
		seq := NewSequence("test", passThrough("a"))
		defer seq.Close()
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := seq.Process(cctx, `a="1"`)
		var streamErr *Error
		if !errors.As(err, &streamErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if !streamErr.Canceled {
			t.Error("expected canceled flag")
		}
	})

	t.Run("Panic Recovered", func(t *testing.T) {
		seq := NewSequence("test", panicky{})
		defer seq.Close()

		got, err := seq.Process(ctx, `a="1"`)
		if got != "" {
			t.Errorf("expected empty result, got %q", got)
		}
		var streamErr *Error
		if !errors.As(err, &streamErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if streamErr.Path[0] != "test" {
			t.Errorf("expected path to start with sequence name, got %v", streamErr.Path)
		}
	})
}

type panicky struct{}

func (panicky) Process(context.Context, string) (string, error) { panic("unexpected") }
func (panicky) Name() Name                                      { return "panicky" }

func TestSequenceModification(t *testing.T) {
	t.Run("Push And Pop", func(t *testing.T) {
		seq := NewSequence("test", passThrough("middle"))
		defer seq.Close()

		seq.PushHead(passThrough("head"))
		seq.PushTail(passThrough("tail"))
		if got := seq.Names(); !reflect.DeepEqual(got, []Name{"head", "middle", "tail"}) {
			t.Errorf("unexpected order %v", got)
		}

		first, err := seq.PopHead()
		if err != nil || first.Name() != "head" {
			t.Errorf("expected head, got %v (%v)", first, err)
		}
		last, err := seq.PopTail()
		if err != nil || last.Name() != "tail" {
			t.Errorf("expected tail, got %v (%v)", last, err)
		}
		if seq.Len() != 1 {
			t.Errorf("expected 1 step, got %d", seq.Len())
		}

		seq.Clear()
		if _, err := seq.PopHead(); !errors.Is(err, ErrEmptySequence) {
			t.Errorf("expected ErrEmptySequence, got %v", err)
		}
		if _, err := seq.PopTail(); !errors.Is(err, ErrEmptySequence) {
			t.Errorf("expected ErrEmptySequence, got %v", err)
		}
	})

	t.Run("Named Edits", func(t *testing.T) {
		seq := NewSequence("test")
		defer seq.Close()
		seq.Register(passThrough("a"), passThrough("c"))

		if err := seq.After("a", passThrough("b")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := seq.Before("a", passThrough("start")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := seq.Replace("c", passThrough("end")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := seq.Remove("b"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := seq.Names(); !reflect.DeepEqual(got, []Name{"start", "a", "end"}) {
			t.Errorf("unexpected order %v", got)
		}

		for _, err := range []error{
			seq.Remove("missing"),
			seq.Replace("missing", passThrough("x")),
			seq.After("missing"),
			seq.Before("missing"),
		} {
			if !errors.Is(err, ErrProcessorNotFound) {
				t.Errorf("expected ErrProcessorNotFound, got %v", err)
			}
		}
	})

	t.Run("Concurrent Modification", func(t *testing.T) {
		seq := NewSequence("test", GateStep("gate", MinTokens(1)))
		defer seq.Close()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				seq.PushTail(passThrough("extra"))
			}()
			go func() {
				defer wg.Done()
				if _, err := seq.Process(context.Background(), `a="1"`); err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if seq.Len() != 21 {
			t.Errorf("expected 21 steps, got %d", seq.Len())
		}
	})
}

func TestSequenceObservability(t *testing.T) {
	t.Run("Metrics and Spans", func(t *testing.T) {
		seq := NewSequence("observed",
			passThrough("stage1"),
			passThrough("stage2"),
			passThrough("stage3"),
		)
		defer seq.Close()

		var spans []tracez.Span
		var spanMu sync.Mutex
		seq.Tracer().OnSpanComplete(func(span tracez.Span) {
			spanMu.Lock()
			spans = append(spans, span)
			spanMu.Unlock()
		})

		if _, err := seq.Process(context.Background(), `a="1"`); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if v := seq.Metrics().Counter(SequenceProcessedTotal).Value(); v != 1 {
			t.Errorf("expected 1 processed, got %f", v)
		}
		if v := seq.Metrics().Counter(SequenceSuccessesTotal).Value(); v != 1 {
			t.Errorf("expected 1 success, got %f", v)
		}
		if v := seq.Metrics().Gauge(SequenceStagesTotal).Value(); v != 3 {
			t.Errorf("expected 3 total stages, got %f", v)
		}
		if v := seq.Metrics().Gauge(SequenceStagesCompleted).Value(); v != 3 {
			t.Errorf("expected 3 completed stages, got %f", v)
		}

		spanMu.Lock()
		defer spanMu.Unlock()
		if len(spans) != 4 {
			t.Fatalf("expected 4 spans (1 main + 3 stages), got %d", len(spans))
		}
		runIDs := make(map[string]struct{})
		for _, span := range spans {
			id, ok := span.Tags[SequenceTagRunID]
			if !ok {
				t.Errorf("span %s missing run id", span.Name)
				continue
			}
			if _, err := uuid.Parse(id); err != nil {
				t.Errorf("run id %q is not a uuid: %v", id, err)
			}
			runIDs[id] = struct{}{}
			if span.Name == SequenceStageSpan {
				if _, ok := span.Tags[SequenceTagProcessorName]; !ok {
					t.Error("stage span missing processor_name tag")
				}
			}
		}
		if len(runIDs) != 1 {
			t.Errorf("expected one run id across spans, got %d", len(runIDs))
		}
	})

	t.Run("Failure Metrics", func(t *testing.T) {
		seq := NewSequence("failing", ValidateStep("validate"))
		defer seq.Close()

		_, _ = seq.Process(context.Background(), "bad")
		if v := seq.Metrics().Counter(SequenceFailuresTotal).Value(); v != 1 {
			t.Errorf("expected 1 failure, got %f", v)
		}
		if v := seq.Metrics().Counter(SequenceSuccessesTotal).Value(); v != 0 {
			t.Errorf("expected 0 successes, got %f", v)
		}
	})

	t.Run("Hooks With Fake Clock", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		seq := NewSequence("hooked",
			Transform("slow", func(_ context.Context, s string) string {
				clock.Advance(20 * time.Millisecond)
				return s
			}),
			GateStep("block", MinTokens(5)),
		).WithClock(clock)
		defer seq.Close()

		var mu sync.Mutex
		var stages, all []SequenceEvent
		if err := seq.OnStageComplete(func(_ context.Context, e SequenceEvent) error {
			mu.Lock()
			stages = append(stages, e)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("unexpected hook error: %v", err)
		}
		if err := seq.OnAllComplete(func(_ context.Context, e SequenceEvent) error {
			mu.Lock()
			all = append(all, e)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("unexpected hook error: %v", err)
		}

		if _, err := seq.Process(context.Background(), `a="1"`); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if len(stages) != 2 {
			t.Fatalf("expected 2 stage events, got %d", len(stages))
		}
		sort.Slice(stages, func(i, j int) bool { return stages[i].StageNumber < stages[j].StageNumber })
		if stages[0].StageName != "slow" || stages[0].Duration != 20*time.Millisecond {
			t.Errorf("unexpected first stage event %+v", stages[0])
		}
		if stages[0].Blocked || !stages[1].Blocked {
			t.Error("expected only the gate stage to be blocked")
		}
		if stages[0].RunID == "" || stages[0].RunID != stages[1].RunID {
			t.Error("expected stage events to share a run id")
		}
		if len(all) != 1 {
			t.Fatalf("expected 1 all_complete event, got %d", len(all))
		}
		if all[0].CompletedStages != 2 || !all[0].Blocked || all[0].TotalDuration != 20*time.Millisecond {
			t.Errorf("unexpected all_complete event %+v", all[0])
		}
		if v := seq.Metrics().Gauge(SequenceDurationMs).Value(); v != 20 {
			t.Errorf("expected 20ms duration, got %f", v)
		}
	})
}
