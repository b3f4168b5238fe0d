package xstream

import (
	"slices"
	"strings"
	"unicode"
)

// MergeKind identifies a merge strategy.
type MergeKind int

const (
	MergeConcat MergeKind = iota
	MergeInterleave
	MergePriority
	MergeSort
	MergeDedupe
	MergeByNamespace
	MergeKeepFirst
	MergeKeepLast
	MergeAnnotate
)

// Strategy controls how Merge recombines lines.
type Strategy struct {
	Order []string
	Kind  MergeKind
}

// Concat flattens every line in order.
func Concat() Strategy { return Strategy{Kind: MergeConcat} }

// Interleave takes token i from every line before token i+1 from any.
func Interleave() Strategy { return Strategy{Kind: MergeInterleave} }

// Priority emits the listed namespaces first, in the order given, then the
// rest sorted by namespace name.
func Priority(names ...string) Strategy { return Strategy{Kind: MergePriority, Order: names} }

// Sort orders all tokens by the text before '='. Ties keep input order.
func Sort() Strategy { return Strategy{Kind: MergeSort} }

// Dedupe drops tokens byte-identical to one already emitted.
func Dedupe() Strategy { return Strategy{Kind: MergeDedupe} }

// ByNamespace regroups lines sharing a namespace header and re-emits the
// forked multi-line format.
func ByNamespace() Strategy { return Strategy{Kind: MergeByNamespace} }

// KeepFirst keeps the first token seen for each key.
func KeepFirst() Strategy { return Strategy{Kind: MergeKeepFirst} }

// KeepLast replaces earlier tokens with the last one seen for each key,
// in the position of the first.
func KeepLast() Strategy { return Strategy{Kind: MergeKeepLast} }

// Annotate keeps every token and precedes each repeated key with a
// dupe:<key>=true marker.
func Annotate() Strategy { return Strategy{Kind: MergeAnnotate} }

// mergeLine is one input line split into its optional header and tokens.
type mergeLine struct {
	header string
	tokens []string
}

// parseLines splits input into lines, strips "namespace: " headers and
// drops blank or grammar-invalid lines.
func parseLines(input string) []mergeLine {
	var out []mergeLine
	for _, raw := range strings.Split(input, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		header, body := splitHeader(raw)
		if !IsTokenStreamable(body) {
			continue
		}
		tokens := splitTokens(body)
		if len(tokens) == 0 {
			continue
		}
		out = append(out, mergeLine{header: header, tokens: tokens})
	}
	return out
}

// splitHeader separates a Fork-style "name: tokens" line. A prefix only
// counts as a header when it holds no '=', ';' or whitespace, which keeps
// values such as msg="a: b" intact.
func splitHeader(line string) (header, body string) {
	name, rest, ok := strings.Cut(line, ": ")
	if !ok || name == "" || strings.ContainsAny(name, "=;") || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return "", line
	}
	return name, rest
}

// Merge recombines Fork output, or bare streams one per line, using
// strategy. Invalid lines are skipped rather than failing the merge.
func Merge(input string, strategy Strategy) string {
	lines := parseLines(input)
	if len(lines) == 0 {
		return ""
	}

	switch strategy.Kind {
	case MergeInterleave:
		return join(interleave(lines))
	case MergePriority:
		return join(byPriority(lines, strategy.Order))
	case MergeSort:
		tokens := flatten(lines)
		slices.SortStableFunc(tokens, func(a, b string) int {
			return strings.Compare(tokenKey(a), tokenKey(b))
		})
		return join(tokens)
	case MergeDedupe:
		return join(dedupe(flatten(lines)))
	case MergeByNamespace:
		return regroup(lines)
	case MergeKeepFirst, MergeKeepLast, MergeAnnotate:
		return join(resolveCollisions(flatten(lines), strategy.Kind))
	default:
		return join(flatten(lines))
	}
}

// MergeStreams merges independent bare streams, one per argument.
func MergeStreams(strategy Strategy, streams ...string) string {
	return Merge(strings.Join(streams, "\n"), strategy)
}

func join(tokens []string) string {
	return strings.Join(tokens, "; ")
}

func flatten(lines []mergeLine) []string {
	var out []string
	for _, line := range lines {
		out = append(out, line.tokens...)
	}
	return out
}

func interleave(lines []mergeLine) []string {
	longest := 0
	for _, line := range lines {
		longest = max(longest, len(line.tokens))
	}
	var out []string
	for i := 0; i < longest; i++ {
		for _, line := range lines {
			if i < len(line.tokens) {
				out = append(out, line.tokens[i])
			}
		}
	}
	return out
}

func byPriority(lines []mergeLine, order []string) []string {
	groups := make(map[string][]string)
	for _, token := range flatten(lines) {
		ns := tokenNamespace(token)
		groups[ns] = append(groups[ns], token)
	}

	var out []string
	for _, ns := range order {
		out = append(out, groups[ns]...)
		delete(groups, ns)
	}
	rest := make([]string, 0, len(groups))
	for ns := range groups {
		rest = append(rest, ns)
	}
	slices.Sort(rest)
	for _, ns := range rest {
		out = append(out, groups[ns]...)
	}
	return out
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

// regroup concatenates lines that share a header. Header-less lines are
// grouped per token by the token's own namespace. Groups keep first-seen
// order.
func regroup(lines []mergeLine) string {
	var order []string
	groups := make(map[string][]string)
	add := func(ns string, tokens ...string) {
		if _, ok := groups[ns]; !ok {
			order = append(order, ns)
		}
		groups[ns] = append(groups[ns], tokens...)
	}

	for _, line := range lines {
		if line.header != "" {
			add(line.header, line.tokens...)
			continue
		}
		for _, token := range line.tokens {
			add(tokenNamespace(token), token)
		}
	}

	out := make([]string, len(order))
	for i, ns := range order {
		out[i] = ns + ": " + join(groups[ns])
	}
	return strings.Join(out, "\n")
}

func resolveCollisions(tokens []string, kind MergeKind) []string {
	seen := make(map[string]int, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		key := tokenKey(token)
		pos, dup := seen[key]
		switch kind {
		case MergeKeepFirst:
			if !dup {
				seen[key] = len(out)
				out = append(out, token)
			}
		case MergeKeepLast:
			if dup {
				out[pos] = token
			} else {
				seen[key] = len(out)
				out = append(out, token)
			}
		case MergeAnnotate:
			if dup {
				out = append(out, "dupe:"+key+"=true")
			} else {
				seen[key] = len(out)
			}
			out = append(out, token)
		}
	}
	return out
}
