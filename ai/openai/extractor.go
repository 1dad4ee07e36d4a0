// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package openai

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/poiesic/dealwire/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// maxSyntaxAttempts is how often a response that is not even valid JSON is re-requested.
const maxSyntaxAttempts = 3

// DealExtractor implements ai.DealExtractor using OpenAI-compatible chat APIs.
type DealExtractor struct {
	client    llms.Model
	maxTokens int
	logger    *slog.Logger
}

// newDealExtractor is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newDealExtractor(config *ai.Config) (*DealExtractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.Host),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.Model),
	)
	if err != nil {
		return nil, err
	}

	return newDealExtractorWithModel(client, config.MaxOutputTokens), nil
}

func newDealExtractorWithModel(client llms.Model, maxTokens int) *DealExtractor {
	return &DealExtractor{
		client:    client,
		maxTokens: maxTokens,
		logger:    slog.Default().With("component", "openai-extractor"),
	}
}

// NewDealExtractor creates a new deal extractor using the provided configuration.
//
// Returns ai.DealExtractor interface to enforce abstraction.
func NewDealExtractor(config *ai.Config) (ai.DealExtractor, error) {
	return newDealExtractor(config)
}

// Extract asks the model to describe the deal in text and returns its cleaned response.
// A response that is not syntactically valid JSON even after cleaning is
// re-requested a few times; the last one is returned verbatim so the caller
// can record what the model actually said.
func (e *DealExtractor) Extract(ctx context.Context, text string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ai.SystemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}

	var responseText string
	for attempt := 1; attempt <= maxSyntaxAttempts; attempt++ {
		response, err := e.client.GenerateContent(ctx, content,
			llms.WithTemperature(0.0),
			llms.WithMaxTokens(e.maxTokens),
			llms.WithJSONMode(),
		)
		if err != nil {
			e.logger.Error("failed to generate content", "attempt", attempt, "err", err)
			return "", err
		}

		if len(response.Choices) < 1 || response.Choices[0].Content == "" {
			return "", ai.ErrEmptyResponse
		}

		responseText = response.Choices[0].Content
		if cleaned := ai.CleanResponse(responseText); json.Valid([]byte(cleaned)) {
			return cleaned, nil
		}
		e.logger.Warn("extractor response is not valid JSON",
			"attempt", attempt,
			"response", responseText)
	}

	return responseText, nil
}
