// Package mock provides test double implementations of AI service interfaces.
//
// The mocks let tests run without external AI services and give controlled,
// deterministic extractor output.
//
// # Usage in Tests
//
//	// Default behavior: every call reports that no deal was found
//	extractor := mock.NewMockDealExtractor()
//
//	// Canned response
//	extractor := mock.NewMockDealExtractor().WithResponse(`{"dealDetected":true,...}`)
//
//	// Custom behavior injection
//	extractor := mock.NewMockDealExtractor().
//	    WithExtractFunc(func(ctx context.Context, text string) (string, error) {
//	        return "", errors.New("model offline")
//	    })
//
//	// Check call counts
//	count := extractor.CallCount()
//
// MockDealExtractor is safe for concurrent use.
package mock
