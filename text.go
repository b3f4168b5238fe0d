package xstream

import (
	"slices"
	"strconv"
	"strings"
)

// Text streamables are small text-to-text helpers for shell-style pipelines.
// They split on ';' without validating the grammar, so they tolerate the
// loose input a pipeline may hand them.

// TokenCountText counts the non-empty ';'-separated pieces of input.
func TokenCountText(input string) string {
	return strconv.Itoa(len(splitTokens(input)))
}

// ExtractKeys lists the text before '=' of every token, one per line.
// Namespace prefixes are kept, so db:user="x" yields "db:user".
func ExtractKeys(input string) string {
	tokens := splitTokens(input)
	out := make([]string, len(tokens))
	for i, token := range tokens {
		out[i] = strings.TrimSpace(tokenKey(token))
	}
	return strings.Join(out, "\n")
}

// ExtractValues lists the unquoted value of every token, one per line.
// Pieces without '=' are skipped.
func ExtractValues(input string) string {
	var out []string
	for _, token := range splitTokens(input) {
		_, value, ok := strings.Cut(token, "=")
		if !ok {
			continue
		}
		out = append(out, unquote(strings.TrimSpace(value)))
	}
	return strings.Join(out, "\n")
}

// FilterTokens keeps the tokens whose key contains substr.
func FilterTokens(input, substr string) string {
	var out []string
	for _, token := range splitTokens(input) {
		if strings.Contains(tokenKey(token), substr) {
			out = append(out, token)
		}
	}
	return join(out)
}

// ExtractNamespaces lists every namespace named by an ns= switch or a token
// prefix, sorted and unique, one per line.
func ExtractNamespaces(input string) string {
	seen := make(map[string]struct{})
	for _, token := range splitTokens(input) {
		if value, ok := strings.CutPrefix(token, "ns="); ok {
			seen[unquote(value)] = struct{}{}
			continue
		}
		if ns := tokenNamespace(token); ns != GlobalNamespace {
			seen[ns] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

// FilterByNamespace keeps the tokens that land in namespace: prefixed tokens
// by their prefix, unprefixed ones by the active ns= switch. The switch
// tokens that enter namespace are kept too, so the output still scopes
// correctly when parsed.
func FilterByNamespace(input, namespace string) string {
	active := GlobalNamespace
	var out []string
	for _, token := range splitTokens(input) {
		if value, ok := strings.CutPrefix(token, "ns="); ok {
			active = unquote(value)
			if active == namespace {
				out = append(out, token)
			}
			continue
		}
		ns := tokenNamespace(token)
		if ns == GlobalNamespace && !strings.HasPrefix(token, GlobalNamespace+":") {
			ns = active
		}
		if ns == namespace {
			out = append(out, token)
		}
	}
	return join(out)
}

// TokensToLines puts each token on its own line.
func TokensToLines(input string) string {
	return strings.Join(splitTokens(input), "\n")
}

// LinesToTokens joins non-empty lines back into a single stream.
func LinesToTokens(input string) string {
	var out []string
	for _, line := range strings.Split(input, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return join(out)
}
