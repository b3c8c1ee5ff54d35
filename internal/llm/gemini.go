package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClassifier classifies through the Gemini API.
type GeminiClassifier struct {
	apiKey  string
	model   string
	timeout time.Duration

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiClassifier(apiKey, model string) *GeminiClassifier {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClassifier{apiKey: strings.TrimSpace(apiKey), model: model, timeout: 20 * time.Second}
}

func (g *GeminiClassifier) Name() string { return "gemini" }

func (g *GeminiClassifier) ensureClient(ctx context.Context) (*genai.Client, error) {
	if g.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	g.client = client
	return client, nil
}

// Classify asks the model for one label from req.Labels and its reasoning.
func (g *GeminiClassifier) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResponse, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return ClassifyResponse{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt, err := buildPrompt(req)
	if err != nil {
		return ClassifyResponse{}, err
	}
	resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		return ClassifyResponse{}, fmt.Errorf("gemini: generate content: %w", err)
	}
	raw := resp.Text()
	if raw == "" {
		return ClassifyResponse{}, fmt.Errorf("gemini: empty response")
	}
	var out ClassifyResponse
	if err := decodeJSON(raw, &out); err != nil {
		return ClassifyResponse{}, fmt.Errorf("gemini: %w", err)
	}
	out.Category = strings.ToLower(strings.TrimSpace(out.Category))
	out.Confidence = clamp01(out.Confidence)
	return out, nil
}

func buildPrompt(req ClassifyRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return "You categorize personal bank transactions.\n" +
		"Positive amounts are money spent, negative amounts are money received.\n" +
		"Choose exactly one category from \"labels\".\n" +
		"Return ONLY a JSON object with keys: category (string, one of labels), " +
		"reasoning (one short sentence), confidence (number 0-1).\n" +
		"Do NOT wrap the response in code fences.\n\n" +
		"Transaction JSON:\n" + string(payload), nil
}
