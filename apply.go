package xstream

import (
	"context"
	"time"
)

// Apply creates a Processor from a function that may fail. A returned error
// stops the pipeline and is wrapped in an *Error carrying the processor name,
// the input that caused it and how long the call took.
//
// Example:
//
//	strict := xstream.Apply("strict", func(_ context.Context, s string) (string, error) {
//	    if _, err := xstream.Tokenize(s); err != nil {
//	        return "", err
//	    }
//	    return s, nil
//	})
func Apply(name Name, fn func(context.Context, string) (string, error)) Processor {
	return Processor{
		name: name,
		fn: func(ctx context.Context, input string) (result string, err error) {
			defer recoverFromPanic(&result, &err, name, input)
			start := time.Now()
			result, err = fn(ctx, input)
			if err != nil {
				return "", wrapError(name, input, err, start, time.Now())
			}
			return result, nil
		},
	}
}
