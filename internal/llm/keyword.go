package llm

import (
	"context"
	"fmt"
	"strings"
)

// KeywordClassifier is an offline heuristic classifier. It never fails and
// reports low confidence when nothing matches.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

func (k *KeywordClassifier) Name() string { return "keyword" }

var keywordRules = []struct {
	label    string
	keywords []string
	income   bool
}{
	{label: "paychecks", keywords: []string{"payroll", "salary", "direct dep", "paycheck"}, income: true},
	{label: "interest_income", keywords: []string{"interest"}, income: true},
	{label: "restaurants_or_bars", keywords: []string{"restaurant", "grill", "pizza", "sushi", "bar ", "doordash", "grubhub", "uber eats"}},
	{label: "taxi_or_ride_shares", keywords: []string{"uber", "lyft", "taxi"}},
	{label: "public_transit", keywords: []string{"metro", "transit", "subway", "bart", "mta"}},
	{label: "gas", keywords: []string{"shell", "chevron", "exxon", "bp ", "fuel", "gas station"}},
	{label: "groceries", keywords: []string{"whole foods", "safeway", "trader joe", "kroger", "aldi", "costco", "woolworth", "coles"}},
	{label: "coffee_shops", keywords: []string{"starbucks", "coffee", "cafe", "blue bottle", "dunkin"}},
	{label: "airfare", keywords: []string{"airline", "airways", "united", "delta", "southwest"}},
	{label: "accommodation", keywords: []string{"hotel", "airbnb", "marriott", "hilton"}},
	{label: "shopping", keywords: []string{"amazon", "ebay", "target", "walmart"}},
	{label: "software_subscriptions", keywords: []string{"spotify", "netflix", "github", "adobe", "apple.com/bill"}},
	{label: "internet", keywords: []string{"comcast", "xfinity", "verizon fios"}},
	{label: "phone", keywords: []string{"t-mobile", "at&t", "verizon wireless"}},
	{label: "fitness", keywords: []string{"gym", "fitness", "peloton", "yoga"}},
	{label: "medical", keywords: []string{"pharmacy", "cvs", "walgreens", "clinic", "hospital"}},
	{label: "rent", keywords: []string{"rent", "apartment"}},
	{label: "credit_card_payment", keywords: []string{"credit card", "autopay", "payment thank"}},
	{label: "transfer", keywords: []string{"transfer", "zelle", "venmo"}},
	{label: "atm_cash_withdrawal", keywords: []string{"atm", "cash withdrawal"}},
}

// Classify scores every allowed label against the transaction text.
func (k *KeywordClassifier) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResponse, error) {
	if err := ctx.Err(); err != nil {
		return ClassifyResponse{}, err
	}
	desc := strings.ToLower(strings.Join([]string{req.MerchantName, req.Name, req.Description}, " "))
	allowed := make(map[string]bool, len(req.Labels))
	for _, l := range req.Labels {
		allowed[strings.ToLower(l)] = true
	}
	inflow := req.Amount.IsNegative()

	bestLabel, bestScore, reason := "", 0.0, ""
	for _, rule := range keywordRules {
		if len(allowed) > 0 && !allowed[rule.label] {
			continue
		}
		if rule.income != inflow {
			continue
		}
		for _, kw := range rule.keywords {
			if strings.Contains(desc, kw) && 0.85 > bestScore {
				bestLabel, bestScore = rule.label, 0.85
				reason = fmt.Sprintf("matched keyword %q", strings.TrimSpace(kw))
			}
		}
	}
	if bestLabel == "" {
		for _, l := range req.Labels {
			score := keywordScore(desc, l)
			if score > bestScore {
				bestLabel, bestScore = strings.ToLower(l), score
				reason = "similar wording to " + l
			}
		}
	}
	if bestLabel == "" {
		return ClassifyResponse{Category: "uncategorized", Reasoning: "no keyword matched", Confidence: 0}, nil
	}
	return ClassifyResponse{Category: bestLabel, Reasoning: reason, Confidence: bestScore}, nil
}

func keywordScore(desc, label string) float64 {
	spaced := strings.ReplaceAll(strings.ToLower(label), "_", " ")
	if strings.Contains(desc, spaced) {
		return 0.9
	}
	// fallback: partial overlap ratio
	return textSimilarity(desc, spaced)
}

// textSimilarity is a simple token overlap ratio in [0,1].
func textSimilarity(a, b string) float64 {
	aTokens := tokens(a)
	bTokens := tokens(b)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0
	}
	intersect := 0
	for t := range aTokens {
		if _, ok := bTokens[t]; ok {
			intersect++
		}
	}
	union := len(aTokens) + len(bTokens) - intersect
	return float64(intersect) / float64(union)
}

func tokens(s string) map[string]struct{} {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' || r == '_' || r == '/' || r == '*' })
	out := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out[p] = struct{}{}
	}
	return out
}
