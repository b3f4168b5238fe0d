package xstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/tracez"
)

func TestFilter(t *testing.T) {
	ctx := context.Background()
	input := `host="x"; db:user="admin"; db:pass="secret"`

	t.Run("Condition Met", func(t *testing.T) {
		filter := NewFilter("db-only", HasNamespace("db"), ForkStep("fork", Exact("db")))
		defer filter.Close()

		got, err := filter.Process(ctx, input)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != `db: db:pass="secret"; db:user="admin"` {
			t.Errorf("unexpected result %q", got)
		}
	})

	t.Run("Condition Not Met Passes Through", func(t *testing.T) {
		filter := NewFilter("cache-only", HasNamespace("cache"), ForkStep("fork", Exact("cache")))
		defer filter.Close()

		got, err := filter.Process(ctx, input)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != input {
			t.Errorf("expected input unchanged, got %q", got)
		}
	})

	t.Run("Error Keeps Input", func(t *testing.T) {
		filter := NewFilter("strict", ContainsText("bad"), ValidateStep("validate"))
		defer filter.Close()

		got, err := filter.Process(ctx, "bad token")
		if got != "bad token" {
			t.Errorf("expected original input on error, got %q", got)
		}
		var streamErr *Error
		if !errors.As(err, &streamErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if len(streamErr.Path) != 2 || streamErr.Path[0] != "strict" || streamErr.Path[1] != "validate" {
			t.Errorf("expected path [strict validate], got %v", streamErr.Path)
		}
	})

	t.Run("Stock Conditions", func(t *testing.T) {
		if !HasMinTokens(3)(ctx, input) {
			t.Error("expected 3 tokens to satisfy HasMinTokens(3)")
		}
		if HasMinTokens(4)(ctx, input) {
			t.Error("did not expect HasMinTokens(4)")
		}
		if HasMinTokens(1)(ctx, "broken") {
			t.Error("expected malformed input to fail HasMinTokens")
		}
		if !ContainsText("admin")(ctx, input) {
			t.Error("expected ContainsText to match value")
		}
		if HasNamespace("db")(ctx, "broken") {
			t.Error("expected malformed input to fail HasNamespace")
		}
	})

	t.Run("Runtime Updates", func(t *testing.T) {
		filter := NewFilter("dynamic", HasNamespace("db"), GateStep("gate", MaxTokens(1)))
		defer filter.Close()

		first, _ := filter.Process(ctx, input)
		if first != `db:pass="secret"` {
			t.Errorf("unexpected result %q", first)
		}

		filter.SetCondition(func(context.Context, string) bool { return false })
		second, _ := filter.Process(ctx, input)
		if second != input {
			t.Errorf("expected pass-through after SetCondition, got %q", second)
		}

		filter.SetCondition(HasNamespace("db")).SetProcessor(passThrough("noop"))
		if filter.Processor().Name() != "noop" {
			t.Errorf("expected noop processor, got %s", filter.Processor().Name())
		}
		if filter.Name() != "dynamic" {
			t.Errorf("expected name dynamic, got %s", filter.Name())
		}
	})
}

func TestFilterObservability(t *testing.T) {
	ctx := context.Background()
	input := `db:user="admin"`

	t.Run("Metrics and Spans", func(t *testing.T) {
		filter := NewFilter("observed", HasNamespace("db"), passThrough("noop"))
		defer filter.Close()

		var spans []tracez.Span
		var spanMu sync.Mutex
		filter.Tracer().OnSpanComplete(func(span tracez.Span) {
			spanMu.Lock()
			spans = append(spans, span)
			spanMu.Unlock()
		})

		_, _ = filter.Process(ctx, input)
		_, _ = filter.Process(ctx, `cache:ttl="1"`)

		if v := filter.Metrics().Counter(FilterProcessedTotal).Value(); v != 2 {
			t.Errorf("expected 2 processed, got %f", v)
		}
		if v := filter.Metrics().Counter(FilterPassedTotal).Value(); v != 1 {
			t.Errorf("expected 1 passed, got %f", v)
		}
		if v := filter.Metrics().Counter(FilterSkippedTotal).Value(); v != 1 {
			t.Errorf("expected 1 skipped, got %f", v)
		}

		spanMu.Lock()
		defer spanMu.Unlock()
		if len(spans) != 2 {
			t.Fatalf("expected 2 spans, got %d", len(spans))
		}
		if spans[0].Tags[FilterTagConditionMet] != "true" || spans[1].Tags[FilterTagConditionMet] != "false" {
			t.Errorf("unexpected condition tags %v / %v", spans[0].Tags, spans[1].Tags)
		}
	})

	t.Run("Hooks", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		filter := NewFilter("hooked", HasNamespace("db"),
			Transform("slow", func(_ context.Context, s string) string {
				clock.Advance(5 * time.Millisecond)
				return s
			}),
		).WithClock(clock)
		defer filter.Close()

		var mu sync.Mutex
		var passed, skipped []FilterEvent
		if err := filter.OnPassed(func(_ context.Context, e FilterEvent) error {
			mu.Lock()
			passed = append(passed, e)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("unexpected hook error: %v", err)
		}
		if err := filter.OnSkipped(func(_ context.Context, e FilterEvent) error {
			mu.Lock()
			skipped = append(skipped, e)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("unexpected hook error: %v", err)
		}

		_, _ = filter.Process(ctx, input)
		_, _ = filter.Process(ctx, `x="1"`)

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if len(passed) != 1 || len(skipped) != 1 {
			t.Fatalf("expected 1 passed and 1 skipped event, got %d and %d", len(passed), len(skipped))
		}
		if !passed[0].ConditionMet || !passed[0].Success || passed[0].ProcessorName != "slow" {
			t.Errorf("unexpected passed event %+v", passed[0])
		}
		if passed[0].Duration != 5*time.Millisecond {
			t.Errorf("expected 5ms duration, got %v", passed[0].Duration)
		}
		if skipped[0].ConditionMet {
			t.Error("expected skipped event without condition met")
		}
	})
}
