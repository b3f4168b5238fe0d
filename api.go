package xstream

import "context"

// Chainable is the interface every step and connector implements.
// Process receives token-stream text and returns the transformed text.
// An empty result is the stream algebra's "blocked" signal and is not an
// error; errors are reserved for failures such as malformed input or
// cancellation.
type Chainable interface {
	Process(context.Context, string) (string, error)
	Name() Name
}

// Name identifies a processor or connector in error paths, spans and events.
type Name = string

// Processor is a named function that implements Chainable.
// Processors are immutable values; build them with Transform, Apply or one of
// the operator steps.
type Processor struct {
	fn   func(context.Context, string) (string, error)
	name Name
}

// Process runs the wrapped function.
func (p Processor) Process(ctx context.Context, input string) (string, error) {
	return p.fn(ctx, input)
}

// Name returns the processor name.
func (p Processor) Name() Name {
	return p.name
}
