package xstream

import (
	"strings"
	"unicode"
)

// Separator joins namespace segments.
const Separator = "."

// GlobalNamespace holds tokens that carry no explicit namespace and are not
// covered by an ns= switch.
const GlobalNamespace = "global"

// Namespace is a hierarchical dotted path such as "db.primary.pool".
// The zero value means "no namespace" and is what unprefixed tokens carry.
type Namespace struct {
	Parts []string
}

// NewNamespace splits s on the separator without validation. It mirrors what
// the tokenizer does with the text before ':'.
func NewNamespace(s string) Namespace {
	return Namespace{Parts: strings.Split(s, Separator)}
}

// ParseNamespace splits s and rejects empty paths, empty segments and
// segments containing whitespace.
func ParseNamespace(s string) (Namespace, error) {
	if s == "" {
		return Namespace{}, &InvalidNamespaceError{Namespace: s, Reason: "empty namespace"}
	}
	ns := NewNamespace(s)
	for _, part := range ns.Parts {
		if part == "" {
			return Namespace{}, &InvalidNamespaceError{Namespace: s, Reason: "empty segment"}
		}
		if strings.IndexFunc(part, unicode.IsSpace) >= 0 {
			return Namespace{}, &InvalidNamespaceError{Namespace: s, Reason: "whitespace in segment '" + part + "'"}
		}
	}
	return ns, nil
}

// IsZero reports whether n carries no namespace at all.
func (n Namespace) IsZero() bool {
	return len(n.Parts) == 0
}

// String joins the segments with the separator.
func (n Namespace) String() string {
	return strings.Join(n.Parts, Separator)
}

// Equal compares two namespaces by their joined form.
func (n Namespace) Equal(other Namespace) bool {
	return n.String() == other.String()
}

// Depth is the number of segments.
func (n Namespace) Depth() int {
	return len(n.Parts)
}

// Parent returns the namespace one level up. The second result is false for
// top-level and zero namespaces.
func (n Namespace) Parent() (Namespace, bool) {
	if len(n.Parts) < 2 {
		return Namespace{}, false
	}
	parts := make([]string, len(n.Parts)-1)
	copy(parts, n.Parts)
	return Namespace{Parts: parts}, true
}

// Ancestors returns every proper prefix of n, shortest first.
// "a.b.c" yields ["a", "a.b"].
func (n Namespace) Ancestors() []string {
	if len(n.Parts) < 2 {
		return nil
	}
	out := make([]string, 0, len(n.Parts)-1)
	for i := 1; i < len(n.Parts); i++ {
		out = append(out, strings.Join(n.Parts[:i], Separator))
	}
	return out
}

// parentPath returns the dotted parent of path, or "" for top-level paths.
func parentPath(path string) string {
	if i := strings.LastIndex(path, Separator); i >= 0 {
		return path[:i]
	}
	return ""
}
