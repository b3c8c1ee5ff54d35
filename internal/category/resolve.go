// Package category resolves the effective spending category of a transaction
// and encodes the provider's category fields into a single stored string.
package category

import "strings"

// Uncategorized is returned when no source carries a category.
const Uncategorized = "Uncategorized"

// Source identifies where an effective category came from.
type Source string

const (
	SourceManual   Source = "manual"
	SourceAI       Source = "ai"
	SourceProvider Source = "plaid"
	SourceNone     Source = "none"
)

// Candidate is one category source in precedence order.
type Candidate struct {
	Source Source
	Value  string
}

// First returns the first candidate holding a non-blank value.
func First(candidates ...Candidate) (string, Source) {
	for _, c := range candidates {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v, c.Source
		}
	}
	return Uncategorized, SourceNone
}

// Resolve returns the effective category: manual, then ai, then provider.
func Resolve(manual, ai, provider string) string {
	v, _ := ResolveSource(manual, ai, provider)
	return v
}

// ResolveSource is Resolve plus the winning source.
func ResolveSource(manual, ai, provider string) (string, Source) {
	return First(
		Candidate{Source: SourceManual, Value: manual},
		Candidate{Source: SourceAI, Value: ai},
		Candidate{Source: SourceProvider, Value: provider},
	)
}

// IsPresent reports whether a category value counts as set.
func IsPresent(v string) bool {
	return strings.TrimSpace(v) != ""
}
