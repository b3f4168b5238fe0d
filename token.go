package xstream

import (
	"strings"
	"unicode"
)

// Token is a single key="value" or ns:key="value" unit of a stream.
// Tokens are only produced by Tokenize and are treated as immutable.
type Token struct {
	Namespace Namespace
	Key       string
	Value     string
}

// String renders the token back into stream form with a double-quoted value.
// Re-tokenizing the result yields the same namespace, key and value.
func (t Token) String() string {
	if t.Namespace.IsZero() {
		return quotedPair(t.Key, t.Value)
	}
	return t.Namespace.String() + ":" + quotedPair(t.Key, t.Value)
}

// IsSwitch reports whether t is an ns= pseudo-token that changes the active
// namespace instead of carrying data.
func (t Token) IsSwitch() bool {
	return t.Namespace.IsZero() && t.Key == "ns"
}

// Render joins tokens into a single stream separated by "; ".
func Render(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.String()
	}
	return strings.Join(parts, "; ")
}

// renderPair formats one stored key/value pair. Only pairs from the global
// namespace render without a prefix; an empty namespace keeps its bare ':'
// so the pair re-tokenizes into the same place.
func renderPair(namespace, key, value string) string {
	if namespace == GlobalNamespace {
		return quotedPair(key, value)
	}
	return namespace + ":" + quotedPair(key, value)
}

func quotedPair(key, value string) string {
	var b strings.Builder
	b.Grow(len(key) + len(value) + 3)
	b.WriteString(key)
	b.WriteString(`="`)
	b.WriteString(value)
	b.WriteByte('"')
	return b.String()
}

// Tokenize turns stream text into tokens. Parsing is all-or-nothing: the
// first grammar violation aborts the call with a *ParseError naming the
// offending fragment.
//
// Grammar, per ';'-separated slice:
//   - empty and whitespace-only slices are skipped
//   - leading whitespace is allowed, trailing whitespace is not
//   - the first '=' splits key from value; no whitespace may touch it
//   - the first ':' in the key splits namespace from key; neither may
//     contain whitespace
//   - values wrapped in matching double or single quotes are unwrapped
func Tokenize(input string) ([]Token, error) {
	var tokens []Token
	for _, slice := range strings.Split(input, ";") {
		token, ok, err := tokenizeSlice(slice)
		if err != nil {
			return nil, err
		}
		if ok {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

// IsTokenStreamable reports whether input satisfies the grammar. The empty
// string and separator-only input such as ";;;" are streamable.
func IsTokenStreamable(input string) bool {
	for _, slice := range strings.Split(input, ";") {
		if _, _, err := tokenizeSlice(slice); err != nil {
			return false
		}
	}
	return true
}

func tokenizeSlice(slice string) (Token, bool, error) {
	s := strings.TrimLeftFunc(slice, unicode.IsSpace)
	if s == "" {
		return Token{}, false, nil
	}

	trimmed := strings.TrimRightFunc(s, unicode.IsSpace)
	if trimmed != s {
		return Token{}, false, &ParseError{Reason: "trailing spaces not allowed", Fragment: trimmed}
	}

	keyPart, valuePart, found := strings.Cut(s, "=")
	if !found {
		return Token{}, false, &ParseError{Reason: "missing '=' separator", Fragment: s}
	}
	if strings.TrimRightFunc(keyPart, unicode.IsSpace) != keyPart {
		return Token{}, false, &ParseError{Reason: "space before '=' not allowed", Fragment: s}
	}
	if strings.TrimLeftFunc(valuePart, unicode.IsSpace) != valuePart {
		return Token{}, false, &ParseError{Reason: "space after '=' not allowed", Fragment: s}
	}
	if keyPart == "" {
		return Token{}, false, &ParseError{Reason: "empty key", Fragment: s}
	}

	token := Token{Key: keyPart, Value: unquote(valuePart)}
	if ns, key, prefixed := strings.Cut(keyPart, ":"); prefixed {
		if hasSpace(ns) {
			return Token{}, false, &ParseError{Reason: "spaces not allowed in namespace '" + ns + "'", Fragment: s}
		}
		if hasSpace(key) {
			return Token{}, false, &ParseError{Reason: "spaces not allowed in key '" + key + "'", Fragment: s}
		}
		token.Namespace = NewNamespace(ns)
		token.Key = key
	} else if hasSpace(keyPart) {
		return Token{}, false, &ParseError{Reason: "spaces not allowed in key '" + keyPart + "'", Fragment: s}
	}
	return token, true, nil
}

func hasSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}

// unquote strips one pair of matching double or single quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// rawTokens splits grammar-valid text into trimmed, non-empty token strings
// without building structure. The second result is false when text fails
// the grammar.
func rawTokens(text string) ([]string, bool) {
	if !IsTokenStreamable(text) {
		return nil, false
	}
	return splitTokens(text), true
}

// splitTokens splits on ';' and drops empty pieces. No validation.
func splitTokens(text string) []string {
	var out []string
	for _, piece := range strings.Split(text, ";") {
		piece = strings.TrimSpace(piece)
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// tokenNamespace derives the namespace of a raw token string: the text before
// ':' when ':' precedes the first '=', otherwise the global namespace.
func tokenNamespace(raw string) string {
	colon := strings.IndexByte(raw, ':')
	eq := strings.IndexByte(raw, '=')
	if colon >= 0 && (eq < 0 || colon < eq) {
		return raw[:colon]
	}
	return GlobalNamespace
}

// tokenKey returns the text before the first '=' of a raw token string.
func tokenKey(raw string) string {
	if i := strings.IndexByte(raw, '='); i >= 0 {
		return raw[:i]
	}
	return raw
}
