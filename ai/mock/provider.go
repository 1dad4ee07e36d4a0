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


package mock

import "github.com/poiesic/dealwire/ai"

// MockProvider is a test double for ai.Provider.
type MockProvider struct {
	extractor *MockDealExtractor
	closed    bool
}

// NewMockProvider creates a new mock provider with a default mock extractor.
//
// Returns ai.Provider interface for consistency with production constructors.
// Use GetMockExtractor() to access the concrete type for test assertions.
func NewMockProvider() ai.Provider {
	return NewMockProviderWithExtractor(NewMockDealExtractor())
}

// NewMockProviderWithExtractor creates a mock provider around a custom mock extractor.
func NewMockProviderWithExtractor(extractor *MockDealExtractor) *MockProvider {
	return &MockProvider{extractor: extractor}
}

// DealExtractor returns the mock deal extractor.
func (p *MockProvider) DealExtractor() ai.DealExtractor {
	return p.extractor
}

// Close marks the provider closed.
func (p *MockProvider) Close() error {
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *MockProvider) Closed() bool {
	return p.closed
}

// GetMockExtractor returns the underlying mock extractor for test assertions.
func (p *MockProvider) GetMockExtractor() *MockDealExtractor {
	return p.extractor
}
