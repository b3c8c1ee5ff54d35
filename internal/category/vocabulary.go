package category

import (
	"sort"
	"strings"
)

// Vocabulary is the closed set of labels the automated classifier may assign,
// grouped for reporting.
type Vocabulary struct {
	groups  map[string][]string
	byLabel map[string]string
}

// DefaultGroups is the built-in label mapping.
var DefaultGroups = map[string][]string{
	"income":          {"paychecks", "interest_income", "business_income", "investment_income"},
	"benevolence":     {"charity", "gifts"},
	"transportation":  {"auto_payment", "public_transit", "gas", "auto_maintenance", "parking_or_tolls", "taxi_or_ride_shares"},
	"housing":         {"mortgage", "rent", "furniture", "home_maintenance", "remodel"},
	"utilities":       {"garbage", "water", "gas_and_electric", "internet", "phone", "software_subscriptions"},
	"food":            {"groceries", "restaurants_or_bars", "coffee_shops"},
	"travel":          {"travel_general", "airfare", "accommodation"},
	"shopping":        {"shopping", "clothing", "housewares", "electronics"},
	"lifestyle":       {"personal_grooming", "hobbies", "education", "entertainment_or_recreation"},
	"health_wellness": {"medical", "dental", "fitness"},
	"financial":       {"loan_repayment", "financial_legal_services", "atm_cash_withdrawal", "insurance", "taxes", "penalties", "invest"},
	"other":           {"uncategorized", "miscellaneous", "reimburse"},
	"transfers":       {"transfer", "credit_card_payment"},
}

// NewVocabulary builds a vocabulary from group -> labels. Labels are matched
// case-insensitively; a label listed under two groups keeps the first group in
// sorted group order.
func NewVocabulary(groups map[string][]string) *Vocabulary {
	v := &Vocabulary{groups: map[string][]string{}, byLabel: map[string]string{}}
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)
	for _, g := range names {
		for _, l := range groups[g] {
			key := normalize(l)
			if key == "" {
				continue
			}
			if _, ok := v.byLabel[key]; ok {
				continue
			}
			v.byLabel[key] = g
			v.groups[g] = append(v.groups[g], key)
		}
	}
	return v
}

// DefaultVocabulary returns the built-in vocabulary.
func DefaultVocabulary() *Vocabulary { return NewVocabulary(DefaultGroups) }

// Valid reports whether label belongs to the vocabulary.
func (v *Vocabulary) Valid(label string) bool {
	_, ok := v.byLabel[normalize(label)]
	return ok
}

// Canonical returns the stored form of label and whether it is valid.
func (v *Vocabulary) Canonical(label string) (string, bool) {
	key := normalize(label)
	_, ok := v.byLabel[key]
	return key, ok
}

// Group returns the group of label, or "other" when unknown.
func (v *Vocabulary) Group(label string) string {
	if g, ok := v.byLabel[normalize(label)]; ok {
		return g
	}
	return "other"
}

// Labels returns every label, sorted.
func (v *Vocabulary) Labels() []string {
	out := make([]string, 0, len(v.byLabel))
	for l := range v.byLabel {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Groups returns the group names, sorted.
func (v *Vocabulary) Groups() []string {
	out := make([]string, 0, len(v.groups))
	for g := range v.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// LabelsIn returns the labels of group in insertion order.
func (v *Vocabulary) LabelsIn(group string) []string {
	return append([]string(nil), v.groups[normalize(group)]...)
}
