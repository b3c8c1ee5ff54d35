package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoAPIKey is returned when a hosted classifier has no credentials.
var ErrNoAPIKey = errors.New("llm: api key not configured")

// Classifier assigns a spending category drawn from a closed label set.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResponse, error)
}

// ClassifyRequest is the transaction context sent to a classifier.
type ClassifyRequest struct {
	Name             string          `json:"name"`
	MerchantName     string          `json:"merchant_name,omitempty"`
	Description      string          `json:"description,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Date             string          `json:"date"`
	PaymentChannel   string          `json:"payment_channel,omitempty"`
	ProviderCategory string          `json:"provider_category,omitempty"`
	Labels           []string        `json:"labels"`
}

// ClassifyResponse is a classifier's answer.
type ClassifyResponse struct {
	Category   string  `json:"category"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// decodeJSON parses a model reply, tolerating code fences and surrounding text.
func decodeJSON(raw string, out interface{}) error {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), out); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
