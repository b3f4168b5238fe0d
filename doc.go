// Package xstream implements namespace-aware token streams and the stream
// algebra that splits, recombines and flow-controls them.
//
// # Token streams
//
// A token stream is a single line of key/value text:
//
//	host="localhost"; db:user="admin"; ns=cache; ttl="60";
//
// Tokens are separated by ';'. A key may carry a namespace prefix before the
// first ':', and namespaces are dotted paths such as "db.primary". The
// unprefixed ns= pseudo-token switches the active namespace for the
// unprefixed tokens that follow it. Tokens before any switch land in the
// "global" namespace.
//
// Tokenize validates the grammar and returns the tokens. Parse collects them
// into a Bucket, a namespace-indexed view with hierarchy queries (Children,
// AllUnder, Siblings). IsTokenStreamable checks the grammar without building
// anything.
//
// # Stream algebra
//
// The operators are plain functions from text to text:
//
//   - Fork splits a stream into one "namespace: tokens" line per selected
//     namespace (Exact, All, Pattern, Under).
//   - Merge recombines forked or independent streams (Concat, Interleave,
//     Priority, Sort, Dedupe, ByNamespace, KeepFirst, KeepLast, Annotate).
//   - Gate passes, blocks or reshapes a stream based on a Condition
//     (MinTokens, MaxTokens, TokenCount, RequireNamespace, ContainsValue,
//     Sync, Balance, Wait).
//   - Xor, MultiXor and Timed interleave raw token substrings without
//     parsing them, so embedded decoration in values survives.
//
// The operators never return errors. Malformed input, a bad pattern or an
// unmet condition all produce the empty string, which is the algebra's
// blocked signal. Callers that must tell malformed input apart from a blocked
// stream call Parse or IsTokenStreamable first, or put ValidateStep in front
// of the operator.
//
// # Composition
//
// Every operator has a step form (ForkStep, MergeStep, GateStep,
// GateLinesStep, ValidateStep) implementing Chainable. Steps compose with
// custom Transform and Apply processors inside connectors:
//
//   - Sequence runs steps in order, fail-fast, and can be modified at runtime.
//   - Filter runs a step only when a condition holds.
//   - Batch runs a step over many streams, or over each line of forked text,
//     with bounded parallelism.
//   - Switch routes a stream by a key such as its Shape.
//   - Fallback tries alternatives until one succeeds, and Timeout bounds a
//     single call.
//
// Connectors expose metrics (metricz), spans (tracez) and event hooks
// (hookz), and take a clockz.Clock for deterministic tests.
//
//	seq := xstream.NewSequence("db-config",
//	    xstream.ValidateStep("validate"),
//	    xstream.ForkStep("fork", xstream.Under("db")),
//	    xstream.GateLinesStep("non-empty", 1),
//	    xstream.MergeStep("merge", xstream.Sort()),
//	)
//	defer seq.Close()
//
//	out, err := seq.Process(ctx, `db:host="a"; db.replica:host="b"; debug="true"`)
//	// out: db.replica:host="b"; db:host="a"
//
// Failures inside connectors are reported as *Error values whose Path lists
// the connector and processor names from the outermost inward.
package xstream
