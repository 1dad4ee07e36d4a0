package vertex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/poiesic/dealwire/ai"
)

// generator is the part of *genai.GenerativeModel the extractor uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// DealExtractor implements ai.DealExtractor with a Gemini model.
type DealExtractor struct {
	model  generator
	logger *slog.Logger
}

// Provider implements ai.Provider on Vertex AI.
type Provider struct {
	client    *genai.Client
	extractor *DealExtractor
}

// NewProvider connects to Vertex AI and configures the extraction model.
func NewProvider(ctx context.Context, config *ai.Config) (ai.Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Provider != ai.ProviderVertex {
		return nil, fmt.Errorf("vertex: config selects provider %q", config.Provider)
	}

	client, err := genai.NewClient(ctx, config.Project, config.Location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(config.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ai.SystemPrompt())},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
		MaxOutputTokens:  genai.Ptr(int32(config.MaxOutputTokens)),
	}

	return &Provider{
		client:    client,
		extractor: newDealExtractor(model),
	}, nil
}

func newDealExtractor(model generator) *DealExtractor {
	return &DealExtractor{
		model:  model,
		logger: slog.Default().With("component", "vertex-extractor"),
	}
}

// DealExtractor returns the deal extraction service.
func (p *Provider) DealExtractor() ai.DealExtractor {
	return p.extractor
}

// Close releases the Vertex AI client.
func (p *Provider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Extract sends text to Gemini and returns the cleaned response text.
// A response that stays invalid JSON after cleaning is returned as received.
func (e *DealExtractor) Extract(ctx context.Context, text string) (string, error) {
	resp, err := e.model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		e.logger.Error("call to Vertex AI failed", "err", err)
		return "", fmt.Errorf("generate content: %w", err)
	}

	raw := responseText(resp)
	if raw == "" {
		return "", ai.ErrEmptyResponse
	}
	if cleaned := ai.CleanResponse(raw); json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}
	e.logger.Warn("extractor response is not valid JSON", "response", raw)
	return raw, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}
