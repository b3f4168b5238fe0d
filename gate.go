package xstream

import "strings"

// ConditionKind identifies a bucket-based gate condition.
type ConditionKind int

const (
	CondMinTokens ConditionKind = iota
	CondMaxTokens
	CondTokenCount
	CondRequireNamespace
	CondContainsValue
	CondSync
	CondBalance
	CondWait
)

// Condition decides whether Gate passes, blocks, or reshapes a stream.
type Condition struct {
	Value   string
	Other   string
	Streams []string
	N       int
	Kind    ConditionKind
}

// MinTokens passes streams holding at least n tokens.
func MinTokens(n int) Condition { return Condition{Kind: CondMinTokens, N: n} }

// MaxTokens passes streams holding at most n tokens and truncates longer
// ones to exactly n.
func MaxTokens(n int) Condition { return Condition{Kind: CondMaxTokens, N: n} }

// TokenCount passes streams holding exactly n tokens.
func TokenCount(n int) Condition { return Condition{Kind: CondTokenCount, N: n} }

// RequireNamespace passes streams that store at least one pair in name.
func RequireNamespace(name string) Condition {
	return Condition{Kind: CondRequireNamespace, Value: name}
}

// ContainsValue passes streams where some stored value equals v exactly.
func ContainsValue(v string) Condition { return Condition{Kind: CondContainsValue, Value: v} }

// Sync interleaves the input with other when both hold at least n tokens.
func Sync(other string, n int) Condition {
	return Condition{Kind: CondSync, Other: other, N: n}
}

// Balance trims the input and every stream to the shortest length and
// concatenates them.
func Balance(streams ...string) Condition {
	return Condition{Kind: CondBalance, Streams: streams}
}

// Wait passes the input unchanged once it and every stream hold at least n
// tokens.
func Wait(n int, streams ...string) Condition {
	return Condition{Kind: CondWait, N: n, Streams: streams}
}

// Gate applies cond to input. The empty string means blocked; input that
// does not parse is always blocked. Token selection for truncation, Sync and
// Balance follows Bucket.Tokens order: sorted namespace, then sorted key.
func Gate(input string, cond Condition) string {
	b, err := Parse(input, Hybrid)
	if err != nil {
		return ""
	}
	total := b.Len()

	switch cond.Kind {
	case CondMinTokens:
		return passIf(input, total >= cond.N)

	case CondMaxTokens:
		if total <= cond.N {
			return input
		}
		return Render(b.Tokens()[:max(cond.N, 0)])

	case CondTokenCount:
		return passIf(input, total == cond.N)

	case CondRequireNamespace:
		return passIf(input, b.Has(cond.Value))

	case CondContainsValue:
		for _, ns := range b.Namespaces() {
			for _, v := range b.data[ns] {
				if v == cond.Value {
					return input
				}
			}
		}
		return ""

	case CondSync:
		other, err := Parse(cond.Other, Hybrid)
		if err != nil || total < cond.N || other.Len() < cond.N {
			return ""
		}
		left, right := b.Tokens(), other.Tokens()
		pairs := min(len(left), len(right))
		out := make([]Token, 0, pairs*2)
		for i := 0; i < pairs; i++ {
			out = append(out, left[i], right[i])
		}
		return Render(out)

	case CondBalance:
		buckets := []*Bucket{b}
		shortest := total
		for _, s := range cond.Streams {
			other, err := Parse(s, Hybrid)
			if err != nil {
				return ""
			}
			buckets = append(buckets, other)
			shortest = min(shortest, other.Len())
		}
		var out []Token
		for _, bucket := range buckets {
			out = append(out, bucket.Tokens()[:shortest]...)
		}
		return Render(out)

	case CondWait:
		if total < cond.N {
			return ""
		}
		for _, s := range cond.Streams {
			other, err := Parse(s, Hybrid)
			if err != nil || other.Len() < cond.N {
				return ""
			}
		}
		return input
	}
	return ""
}

func passIf(input string, ok bool) string {
	if ok {
		return input
	}
	return ""
}

// GateLines keeps the lines of forked text that hold at least n tokens.
// Headers are preserved; malformed lines are dropped.
func GateLines(forked string, n int) string {
	var out []string
	for _, line := range parseLines(forked) {
		if len(line.tokens) < n {
			continue
		}
		if line.header != "" {
			out = append(out, line.header+": "+join(line.tokens))
		} else {
			out = append(out, join(line.tokens))
		}
	}
	return strings.Join(out, "\n")
}
