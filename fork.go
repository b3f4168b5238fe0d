package xstream

import (
	"regexp"
	"strings"
)

// SelectorKind identifies how a Selector picks namespaces.
type SelectorKind int

const (
	SelectExact SelectorKind = iota
	SelectAll
	SelectPattern
	SelectUnder
)

// Selector chooses which namespaces Fork emits.
type Selector struct {
	Names   []string
	Pattern string
	Prefix  string
	Kind    SelectorKind
}

// Exact selects the named namespaces, in the order given.
func Exact(names ...string) Selector {
	return Selector{Kind: SelectExact, Names: names}
}

// All selects every namespace present in the stream, including global.
func All() Selector {
	return Selector{Kind: SelectAll}
}

// Pattern selects namespaces matching a regular expression.
func Pattern(expr string) Selector {
	return Selector{Kind: SelectPattern, Pattern: expr}
}

// Under selects prefix itself and every namespace below it, so "api"
// matches "api", "api.v1" and "api.v1.users" but not "apis".
func Under(prefix string) Selector {
	return Selector{Kind: SelectUnder, Prefix: prefix}
}

// SelectNamespaces resolves sel against a bucket. Exact keeps the caller's
// order with duplicates and missing names dropped; the other kinds return
// sorted names. A Pattern that does not compile yields *InvalidPatternError.
func SelectNamespaces(b *Bucket, sel Selector) ([]string, error) {
	switch sel.Kind {
	case SelectExact:
		seen := make(map[string]struct{}, len(sel.Names))
		var out []string
		for _, name := range sel.Names {
			if _, dup := seen[name]; dup || !b.Has(name) {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
		return out, nil

	case SelectAll:
		return b.Namespaces(), nil

	case SelectPattern:
		re, err := regexp.Compile(sel.Pattern)
		if err != nil {
			return nil, &InvalidPatternError{Pattern: sel.Pattern, Err: err}
		}
		var out []string
		for _, ns := range b.Namespaces() {
			if re.MatchString(ns) {
				out = append(out, ns)
			}
		}
		return out, nil

	case SelectUnder:
		var out []string
		if b.Has(sel.Prefix) {
			out = append(out, sel.Prefix)
		}
		return append(out, b.AllUnder(sel.Prefix+Separator)...), nil
	}
	return nil, nil
}

// forkLine is one namespace's rendered sub-stream.
type forkLine struct {
	namespace string
	tokens    string
}

func fork(input string, sel Selector) []forkLine {
	b, err := Parse(input, Hybrid)
	if err != nil {
		return nil
	}
	names, err := SelectNamespaces(b, sel)
	if err != nil {
		return nil
	}
	lines := make([]forkLine, 0, len(names))
	for _, ns := range names {
		pairs := b.pairs(ns)
		if len(pairs) == 0 {
			continue
		}
		lines = append(lines, forkLine{namespace: ns, tokens: strings.Join(pairs, "; ")})
	}
	return lines
}

// Fork splits input into one line per selected namespace:
//
//	db: db:host="localhost"; db:user="admin"
//	global: debug="true"
//
// Pairs are rendered with a namespace prefix except in the global namespace,
// sorted by key and joined with "; ". Unparsable input or an invalid pattern
// yields the empty string.
func Fork(input string, sel Selector) string {
	lines := fork(input, sel)
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line.namespace + ": " + line.tokens
	}
	return strings.Join(out, "\n")
}

// ForkMap is Fork keyed by namespace instead of rendered as lines.
func ForkMap(input string, sel Selector) map[string]string {
	lines := fork(input, sel)
	out := make(map[string]string, len(lines))
	for _, line := range lines {
		out[line.namespace] = line.tokens
	}
	return out
}
