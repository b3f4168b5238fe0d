package xstream

import (
	"context"
	"regexp"
)

// Operator steps wrap the stream algebra as Processors so it can be chained
// inside a Sequence, Filter or Batch. They keep the algebra's convention that
// an empty result means blocked or nothing selected.

// ForkStep splits the stream with Fork. A Pattern selector that does not
// compile fails the step with *InvalidPatternError instead of producing an
// empty result.
func ForkStep(name Name, sel Selector) Processor {
	return Apply(name, func(_ context.Context, input string) (string, error) {
		if sel.Kind == SelectPattern {
			if _, err := regexp.Compile(sel.Pattern); err != nil {
				return "", &InvalidPatternError{Pattern: sel.Pattern, Err: err}
			}
		}
		return Fork(input, sel), nil
	})
}

// MergeStep recombines forked text with Merge.
func MergeStep(name Name, strategy Strategy) Processor {
	return Transform(name, func(_ context.Context, input string) string {
		return Merge(input, strategy)
	})
}

// GateStep applies a bucket-based gate condition.
func GateStep(name Name, cond Condition) Processor {
	return Transform(name, func(_ context.Context, input string) string {
		return Gate(input, cond)
	})
}

// GateLinesStep drops forked lines holding fewer than n tokens.
func GateLinesStep(name Name, n int) Processor {
	return Transform(name, func(_ context.Context, input string) string {
		return GateLines(input, n)
	})
}

// ValidateStep passes input through unchanged when it parses, and fails with
// the parse error otherwise. Put it in front of gates when a caller must tell
// malformed input apart from a blocked stream.
func ValidateStep(name Name) Processor {
	return Apply(name, func(_ context.Context, input string) (string, error) {
		if _, err := Parse(input, Hybrid); err != nil {
			return "", err
		}
		return input, nil
	})
}
