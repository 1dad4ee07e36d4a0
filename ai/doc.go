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


// Package ai provides abstractions for the extraction capability used by dealwire.
//
// The pipeline never trusts a model. A DealExtractor only returns raw text;
// turning that text into a typed result (or a schema error) is the job of
// core.ParseExtractionResult.
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible chat APIs (OpenAI, Ollama, vLLM) via langchaingo
//   - ai/vertex: Gemini models on Vertex AI
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// Public constructors of the production packages return interface types.
// Mock constructors return concrete types so tests can inject behavior and
// assert on call counts.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithHost("http://localhost:11434"), ai.WithModel("qwen2.5:7b"))
//	provider, err := openai.NewProvider(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	raw, err := provider.DealExtractor().Extract(ctx, "Northwind closes Fund III at $400M")
package ai
