package xstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestShape(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		input    string
		expected string
	}{
		{"", ShapeEmpty},
		{"   ", ShapeEmpty},
		{`a ="1"`, ShapeInvalid},
		{";;", ShapeInvalid},
		{`host="x"; port="1"`, ShapeFlat},
		{`host="x"; db:user="admin"`, ShapeNamespaced},
		{`ns=db; user="admin"`, ShapeNamespaced},
	}
	for _, tt := range tests {
		if got := Shape(ctx, tt.input); got != tt.expected {
			t.Errorf("Shape(%q): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}

func TestFirstNamespace(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		input    string
		expected string
	}{
		{`db:user="admin"; host="x"`, "db"},
		{`ns=cache; ttl="60"`, "cache"},
		{`host="x"; db:user="admin"`, GlobalNamespace},
		{`bad token`, ShapeInvalid},
		{"", ShapeInvalid},
	}
	for _, tt := range tests {
		if got := FirstNamespace(ctx, tt.input); got != tt.expected {
			t.Errorf("FirstNamespace(%q): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}

func TestSwitch(t *testing.T) {
	ctx := context.Background()

	t.Run("Routes By Shape", func(t *testing.T) {
		sw := NewSwitch("by-shape", Shape).
			AddRoute(ShapeNamespaced, ForkStep("fork", All())).
			AddRoute(ShapeInvalid, ValidateStep("reject"))
		defer sw.Close()

		got, err := sw.Process(ctx, `host="x"; db:user="admin"`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "db: db:user=\"admin\"\nglobal: host=\"x\"" {
			t.Errorf("unexpected result %q", got)
		}

		flat := `host="x"`
		if got, _ := sw.Process(ctx, flat); got != flat {
			t.Errorf("expected unrouted stream unchanged, got %q", got)
		}

		_, err = sw.Process(ctx, "bad token")
		var streamErr *Error
		if !errors.As(err, &streamErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if len(streamErr.Path) != 2 || streamErr.Path[0] != "by-shape" || streamErr.Path[1] != "reject" {
			t.Errorf("expected path [by-shape reject], got %v", streamErr.Path)
		}

		if v := sw.Metrics().Counter(SwitchRoutedTotal).Value(); v != 2 {
			t.Errorf("expected 2 routed, got %f", v)
		}
		if v := sw.Metrics().Counter(SwitchUnroutedTotal).Value(); v != 1 {
			t.Errorf("expected 1 unrouted, got %f", v)
		}
		if v := sw.Metrics().Counter(SwitchSuccessesTotal).Value(); v != 2 {
			t.Errorf("expected 2 successes, got %f", v)
		}
	})

	t.Run("Route Management", func(t *testing.T) {
		sw := NewSwitch("routes", FirstNamespace)
		defer sw.Close()

		sw.AddRoute("db", passThrough("db")).AddRoute("cache", passThrough("cache"))
		if !sw.HasRoute("db") || len(sw.Routes()) != 2 {
			t.Errorf("expected 2 routes, got %v", sw.Routes())
		}

		routes := sw.Routes()
		delete(routes, "db")
		if !sw.HasRoute("db") {
			t.Error("expected Routes to return a copy")
		}

		sw.RemoveRoute("db")
		if sw.HasRoute("db") {
			t.Error("expected db route removed")
		}
		sw.ClearRoutes()
		if len(sw.Routes()) != 0 {
			t.Errorf("expected no routes, got %d", len(sw.Routes()))
		}

		sw.SetRouter(func(context.Context, string) string { return "all" }).
			AddRoute("all", GateStep("gate", MaxTokens(1)))
		if got, _ := sw.Process(ctx, `b="2"; a="1"`); got != `a="1"` {
			t.Errorf("unexpected result %q", got)
		}
	})

	t.Run("Hooks", func(t *testing.T) {
		sw := NewSwitch("hooked", FirstNamespace).AddRoute("db", passThrough("db-step"))
		defer sw.Close()

		var mu sync.Mutex
		var routed, unrouted []SwitchEvent
		if err := sw.OnRouted(func(_ context.Context, e SwitchEvent) error {
			mu.Lock()
			routed = append(routed, e)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("unexpected hook error: %v", err)
		}
		if err := sw.OnUnrouted(func(_ context.Context, e SwitchEvent) error {
			mu.Lock()
			unrouted = append(unrouted, e)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("unexpected hook error: %v", err)
		}

		_, _ = sw.Process(ctx, `db:user="admin"`)
		_, _ = sw.Process(ctx, `auth:key="k"`)

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if len(routed) != 1 || routed[0].RouteKey != "db" || routed[0].ProcessorName != "db-step" {
			t.Errorf("unexpected routed events %+v", routed)
		}
		if len(unrouted) != 1 || unrouted[0].RouteKey != "auth" || unrouted[0].Routed {
			t.Errorf("unexpected unrouted events %+v", unrouted)
		}
	})
}
