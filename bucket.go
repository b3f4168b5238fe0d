package xstream

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// BucketMode selects which indexes a Bucket maintains.
type BucketMode int

const (
	// Flat keeps only the namespace -> key -> value map.
	Flat BucketMode = iota
	// Tree keeps the map plus the parent/child namespace index.
	Tree
	// Hybrid is Tree under the name the stream operators use.
	Hybrid
)

func (m BucketMode) String() string {
	switch m {
	case Flat:
		return "flat"
	case Tree:
		return "tree"
	case Hybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("BucketMode(%d)", int(m))
	}
}

func (m BucketMode) indexed() bool {
	return m == Tree || m == Hybrid
}

// Bucket is the parsed, namespace-indexed form of a token stream.
// A Bucket is fully built by Parse or FromTokens and never changes
// afterwards, so it is safe to share between goroutines.
type Bucket struct {
	data       map[string]map[string]string
	tree       map[string]map[string]struct{}
	registered map[string]struct{}
	mode       BucketMode
}

// Parse tokenizes input and collects the tokens into a Bucket.
//
// Errors:
//   - ErrEmptyInput when input is empty or whitespace only
//   - *ParseError from the tokenizer
//   - *ParseError "no valid tokens found" when input holds only separators
//   - *InvalidNamespaceError when an ns= switch names an invalid namespace
func Parse(input string, mode BucketMode) (*Bucket, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, fmt.Errorf("parse bucket: %w", err)
	}
	if len(tokens) == 0 {
		return nil, &ParseError{Reason: "no valid tokens found"}
	}
	for _, t := range tokens {
		if !t.IsSwitch() {
			continue
		}
		if _, err := ParseNamespace(t.Value); err != nil {
			return nil, fmt.Errorf("parse bucket: %w", err)
		}
	}
	return FromTokens(tokens, mode), nil
}

// FromTokens runs the active-namespace state machine over tokens.
// The active namespace starts at "global"; an unprefixed ns=<name> token
// switches it and is not stored. Prefixed tokens always land in their own
// namespace. Switch values are taken as-is. Parse rejects switches that do
// not name a valid namespace; callers building from their own tokens should
// check them with ParseNamespace.
func FromTokens(tokens []Token, mode BucketMode) *Bucket {
	b := &Bucket{
		mode: mode,
		data: make(map[string]map[string]string),
	}
	if mode.indexed() {
		b.tree = make(map[string]map[string]struct{})
		b.registered = make(map[string]struct{})
	}

	active := GlobalNamespace
	for _, t := range tokens {
		if t.IsSwitch() {
			active = t.Value
			continue
		}
		ns := active
		if !t.Namespace.IsZero() {
			ns = t.Namespace.String()
		}
		b.insert(ns, t.Key, t.Value)
	}
	return b
}

func (b *Bucket) insert(ns, key, value string) {
	values, ok := b.data[ns]
	if !ok {
		values = make(map[string]string)
		b.data[ns] = values
	}
	values[key] = value

	if b.tree != nil {
		b.index(ns)
	}
}

// index registers every level of ns under its parent, once per namespace.
func (b *Bucket) index(ns string) {
	if ns == "" {
		return
	}
	if _, done := b.registered[ns]; done {
		return
	}
	b.registered[ns] = struct{}{}

	parts := strings.Split(ns, Separator)
	parent := ""
	for i := range parts {
		current := strings.Join(parts[:i+1], Separator)
		children, ok := b.tree[parent]
		if !ok {
			children = make(map[string]struct{})
			b.tree[parent] = children
		}
		children[current] = struct{}{}
		parent = current
	}
}

// Mode returns the mode the bucket was built with.
func (b *Bucket) Mode() BucketMode {
	return b.mode
}

// Namespace returns a copy of the key/value map stored under name.
func (b *Bucket) Namespace(name string) (map[string]string, bool) {
	values, ok := b.data[name]
	if !ok {
		return nil, false
	}
	return maps.Clone(values), true
}

// Has reports whether name exists exactly.
func (b *Bucket) Has(name string) bool {
	_, ok := b.data[name]
	return ok
}

// Get looks up a single value.
func (b *Bucket) Get(namespace, key string) (string, bool) {
	v, ok := b.data[namespace][key]
	return v, ok
}

// Namespaces returns every stored namespace in sorted order.
func (b *Bucket) Namespaces() []string {
	return slices.Sorted(maps.Keys(b.data))
}

// Keys returns the keys of namespace in sorted order.
func (b *Bucket) Keys(namespace string) []string {
	return slices.Sorted(maps.Keys(b.data[namespace]))
}

// Len is the total number of stored pairs across all namespaces.
func (b *Bucket) Len() int {
	n := 0
	for _, values := range b.data {
		n += len(values)
	}
	return n
}

// Tokens returns the stored pairs as tokens, sorted by namespace then key.
// Tokens from the global namespace carry no namespace.
func (b *Bucket) Tokens() []Token {
	out := make([]Token, 0, b.Len())
	for _, ns := range b.Namespaces() {
		var namespace Namespace
		if ns != GlobalNamespace {
			namespace = NewNamespace(ns)
		}
		values := b.data[ns]
		for _, key := range b.Keys(ns) {
			out = append(out, Token{Namespace: namespace, Key: key, Value: values[key]})
		}
	}
	return out
}

// pairs renders every stored pair of ns in key order.
func (b *Bucket) pairs(ns string) []string {
	values := b.data[ns]
	out := make([]string, 0, len(values))
	for _, key := range b.Keys(ns) {
		out = append(out, renderPair(ns, key, values[key]))
	}
	return out
}

// rendered renders every stored pair in Tokens order.
func (b *Bucket) rendered() []string {
	out := make([]string, 0, b.Len())
	for _, ns := range b.Namespaces() {
		out = append(out, b.pairs(ns)...)
	}
	return out
}

// Children returns the direct descendants of name, one level down.
// The empty string addresses the root. Flat buckets have no tree and
// always return nil.
func (b *Bucket) Children(name string) []string {
	if b.tree == nil {
		return nil
	}
	children, ok := b.tree[name]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(children))
}

// AllUnder returns every stored namespace that starts with prefix and is not
// prefix itself. This is a plain string-prefix scan and works in every mode.
func (b *Bucket) AllUnder(prefix string) []string {
	var out []string
	for ns := range b.data {
		if ns != prefix && strings.HasPrefix(ns, prefix) {
			out = append(out, ns)
		}
	}
	slices.Sort(out)
	return out
}

// Siblings returns the other children of name's parent.
func (b *Bucket) Siblings(name string) []string {
	var out []string
	for _, child := range b.Children(parentPath(name)) {
		if child != name {
			out = append(out, child)
		}
	}
	return out
}
