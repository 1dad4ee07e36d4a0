package mock

import (
	"context"
	"sync"
	"sync/atomic"
)

// NoDealResponse is the default output of MockDealExtractor.
const NoDealResponse = `{"dealDetected":false,"dealType":null,"entities":{"generalPartners":[],"funds":[],"portfolioCompanies":[],"limitedPartners":[],"serviceProviders":[]},"amount":{"value":null,"currency":null},"geography":{"country":null,"city":null},"announcementDate":null,"confidenceScore":80,"reasoning":"mock: no transaction found"}`

// MockDealExtractor is a test double for ai.DealExtractor.
// It is safe for concurrent use.
type MockDealExtractor struct {
	// ExtractFunc is called by Extract if set.
	// If nil, Extract returns NoDealResponse.
	ExtractFunc func(ctx context.Context, text string) (string, error)

	callCount atomic.Int64
	mu        sync.Mutex
	texts     []string
}

// NewMockDealExtractor creates a mock deal extractor with default behavior.
// Note: Returns concrete type to allow test assertions.
func NewMockDealExtractor() *MockDealExtractor {
	return &MockDealExtractor{}
}

// WithExtractFunc sets the function called by Extract and returns the mock.
func (m *MockDealExtractor) WithExtractFunc(fn func(ctx context.Context, text string) (string, error)) *MockDealExtractor {
	m.ExtractFunc = fn
	return m
}

// WithResponse makes Extract return raw for every call.
func (m *MockDealExtractor) WithResponse(raw string) *MockDealExtractor {
	return m.WithExtractFunc(func(context.Context, string) (string, error) {
		return raw, nil
	})
}

// Extract records the request and returns the configured response.
func (m *MockDealExtractor) Extract(ctx context.Context, text string) (string, error) {
	m.callCount.Add(1)
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, text)
	}
	return NoDealResponse, nil
}

// CallCount returns the number of times Extract was called.
func (m *MockDealExtractor) CallCount() int {
	return int(m.callCount.Load())
}

// Texts returns a copy of every text passed to Extract, in call order.
func (m *MockDealExtractor) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// Reset clears the call history and custom function.
func (m *MockDealExtractor) Reset() {
	m.callCount.Store(0)
	m.mu.Lock()
	m.texts = nil
	m.mu.Unlock()
	m.ExtractFunc = nil
}
