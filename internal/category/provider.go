package category

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedCategory is returned when a stored provider category cannot be decoded.
var ErrMalformedCategory = errors.New("malformed provider category")

const (
	keyLegacy         = "leg_cgr"
	keyLegacyDetailed = "leg_det"
	keyPrimary        = "cgr"
	keyDetailed       = "det"
	keyConfidence     = "cnf"

	pairSep = ", "
	kvSep   = ": "
)

// ProviderCategory holds the provider's category sub-fields.
//
// It is stored as a single string of "key: value" pairs joined by ", " in the
// fixed order leg_cgr, leg_det, cgr, det, cnf. Empty fields are omitted and the
// zero value encodes to "".
type ProviderCategory struct {
	Legacy         string // first element of the legacy hierarchy
	LegacyDetailed string // full legacy hierarchy joined with " > "
	Primary        string // personal finance category, primary
	Detailed       string // personal finance category, detailed
	Confidence     string // confidence level reported for Primary/Detailed
}

func (p ProviderCategory) pairs() [][2]string {
	return [][2]string{
		{keyLegacy, p.Legacy},
		{keyLegacyDetailed, p.LegacyDetailed},
		{keyPrimary, p.Primary},
		{keyDetailed, p.Detailed},
		{keyConfidence, p.Confidence},
	}
}

// String encodes the category.
func (p ProviderCategory) String() string {
	var parts []string
	for _, kv := range p.pairs() {
		v := strings.TrimSpace(kv[1])
		if v == "" {
			continue
		}
		parts = append(parts, kv[0]+kvSep+v)
	}
	return strings.Join(parts, pairSep)
}

// IsZero reports whether no sub-field is set.
func (p ProviderCategory) IsZero() bool {
	return p.String() == ""
}

// Matches reports whether label occurs in any sub-field, ignoring case.
func (p ProviderCategory) Matches(label string) bool {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return false
	}
	for _, kv := range p.pairs() {
		if strings.Contains(strings.ToLower(kv[1]), label) {
			return true
		}
	}
	return false
}

// ParseProviderCategory decodes an encoded provider category.
//
// A value may itself contain ", " as long as the text following it does not
// start with a known key.
func ParseProviderCategory(s string) (ProviderCategory, error) {
	var p ProviderCategory
	s = strings.TrimSpace(s)
	if s == "" {
		return p, nil
	}

	seen := map[string]bool{}
	var current *string
	for i, part := range strings.Split(s, pairSep) {
		key, value, ok := splitPair(part)
		if !ok {
			if i == 0 {
				return ProviderCategory{}, fmt.Errorf("%w: %q does not start with a key", ErrMalformedCategory, part)
			}
			*current += pairSep + part
			continue
		}
		if seen[key] {
			return ProviderCategory{}, fmt.Errorf("%w: duplicate key %q", ErrMalformedCategory, key)
		}
		seen[key] = true
		current = p.field(key)
		*current = value
	}
	return p, nil
}

func (p *ProviderCategory) field(key string) *string {
	switch key {
	case keyLegacy:
		return &p.Legacy
	case keyLegacyDetailed:
		return &p.LegacyDetailed
	case keyPrimary:
		return &p.Primary
	case keyDetailed:
		return &p.Detailed
	case keyConfidence:
		return &p.Confidence
	}
	return nil
}

func splitPair(part string) (string, string, bool) {
	key, value, found := strings.Cut(part, kvSep)
	if !found {
		return "", "", false
	}
	switch key {
	case keyLegacy, keyLegacyDetailed, keyPrimary, keyDetailed, keyConfidence:
		return key, value, true
	}
	return "", "", false
}
