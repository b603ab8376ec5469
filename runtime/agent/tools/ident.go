// Package tools holds tool identifiers shared by agent loops and model
// adapters.
package tools

import "strings"

// Ident identifies a tool exposed to a model, e.g. "search_docs".
type Ident string

// maxIdentLen is the longest tool name accepted by common providers.
const maxIdentLen = 64

// String returns the identifier as a string.
func (id Ident) String() string {
	return string(id)
}

// Sanitize returns id rewritten to the character set accepted by model
// providers ([a-zA-Z0-9_-], at most 64 characters). Other characters are
// replaced with underscores.
func (id Ident) Sanitize() Ident {
	s := string(id)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > maxIdentLen {
		out = out[:maxIdentLen]
	}
	return Ident(out)
}
