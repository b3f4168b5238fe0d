package xstream

import (
	"context"
)

// Transform creates a Processor from a function that cannot fail.
// A panic inside fn is recovered and reported as an *Error.
//
// Example:
//
//	upper := xstream.Transform("upper", func(_ context.Context, s string) string {
//	    return strings.ToUpper(s)
//	})
func Transform(name Name, fn func(context.Context, string) string) Processor {
	return Processor{
		name: name,
		fn: func(ctx context.Context, input string) (result string, err error) {
			defer recoverFromPanic(&result, &err, name, input)
			return fn(ctx, input), nil
		},
	}
}
