package xstream

import (
	"reflect"
	"testing"
)

func TestXor(t *testing.T) {
	t.Run("Second Stream Exhausted", func(t *testing.T) {
		if got := Xor("a=1;a=2", "b=1"); got != "a=1; b=1; a=2" {
			t.Errorf("expected %q, got %q", "a=1; b=1; a=2", got)
		}
	})

	t.Run("Alternates", func(t *testing.T) {
		got := Xor(`ui:theme="dark"; ui:lang="en"`, `db:host="localhost"; db:port="5432"`)
		expected := `ui:theme="dark"; db:host="localhost"; ui:lang="en"; db:port="5432"`
		if got != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}
	})

	t.Run("First Stream Exhausted", func(t *testing.T) {
		if got := Xor("a=1", "b=1;b=2;b=3"); got != "a=1; b=1; b=2; b=3" {
			t.Errorf("unexpected result %q", got)
		}
	})

	t.Run("Invalid Input", func(t *testing.T) {
		if got := Xor("a=1", "b =1"); got != "" {
			t.Errorf("expected empty result, got %q", got)
		}
	})

	t.Run("Decoration Preserved", func(t *testing.T) {
		got := Xor(`a="\x1b[31mred\x1b[0m"`, `b='x'`)
		if got != `a="\x1b[31mred\x1b[0m"; b='x'` {
			t.Errorf("unexpected result %q", got)
		}
	})
}

func TestXorWithState(t *testing.T) {
	out, state := XorWithState("a=1;a=2;a=3", "b=1")
	if out != Xor("a=1;a=2;a=3", "b=1") {
		t.Errorf("expected output to match Xor, got %q", out)
	}
	if got := state.Sources(); !reflect.DeepEqual(got, []string{"A", "B", "A", "A"}) {
		t.Errorf("expected [A B A A], got %v", got)
	}
	for i, sw := range state.Switches {
		if sw.Position != i {
			t.Errorf("expected position %d, got %d", i, sw.Position)
		}
	}
	if sw := state.Switches[1]; sw != (SourceSwitch{Source: "B", Position: 1}) {
		t.Errorf("expected B at position 1, got %+v", sw)
	}

	_, empty := XorWithState("bad", "b=1")
	if len(empty.Switches) != 0 {
		t.Errorf("expected no switches for invalid input, got %d", len(empty.Switches))
	}
}

func TestMultiXor(t *testing.T) {
	t.Run("Round Robin", func(t *testing.T) {
		got := MultiXor(`a="1"`, `b="2"`, `c="3"`)
		if got != `a="1"; b="2"; c="3"` {
			t.Errorf("unexpected result %q", got)
		}
	})

	t.Run("Exhausted Turn Taken By Next", func(t *testing.T) {
		got := MultiXor("a=1", "b=1;b=2;b=3", "c=1")
		expected := "a=1; b=1; c=1; b=2; b=3"
		if got != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}
	})

	t.Run("Invalid Streams Dropped", func(t *testing.T) {
		got := MultiXor("a=1;a=2", "broken", "c=1")
		if got != "a=1; c=1; a=2" {
			t.Errorf("unexpected result %q", got)
		}
	})

	t.Run("Emits Every Token", func(t *testing.T) {
		got := MultiXor("a=1;a=2;a=3;a=4", "b=1", ";;", "c=1;c=2")
		if n := len(splitTokens(got)); n != 7 {
			t.Errorf("expected 7 tokens, got %d in %q", n, got)
		}
	})

	t.Run("Nothing Valid", func(t *testing.T) {
		if got := MultiXor("bad"); got != "" {
			t.Errorf("expected empty result, got %q", got)
		}
	})
}

func TestTimed(t *testing.T) {
	t.Run("Switches Every N", func(t *testing.T) {
		got := Timed(2, "a=1;a=2;a=3", "b=1;b=2;b=3")
		expected := "a=1; a=2; b=1; b=2; a=3; b=3"
		if got != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}
	})

	t.Run("Skips Exhausted Streams", func(t *testing.T) {
		got := Timed(2, "a=1", "b=1;b=2;b=3;b=4;b=5")
		expected := "a=1; b=1; b=2; b=3; b=4; b=5"
		if got != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}
	})

	t.Run("Never Under Emits", func(t *testing.T) {
		streams := []string{"a=1;a=2;a=3;a=4;a=5", "b=1", "", "c=1;c=2"}
		for n := 1; n <= 4; n++ {
			if got := len(splitTokens(Timed(n, streams...))); got != 8 {
				t.Errorf("switchEvery=%d: expected 8 tokens, got %d", n, got)
			}
		}
	})

	t.Run("Zero Switch", func(t *testing.T) {
		if got := Timed(0, "a=1"); got != "" {
			t.Errorf("expected empty result, got %q", got)
		}
	})

	t.Run("No Valid Streams", func(t *testing.T) {
		if got := Timed(1, "bad"); got != "" {
			t.Errorf("expected empty result, got %q", got)
		}
	})
}
