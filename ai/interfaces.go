package ai

import "context"

// DealExtractor turns the canonical text of a document into raw structured
// output describing a private-markets deal.
// Implementations must be thread-safe for concurrent use.
type DealExtractor interface {
	// Extract sends text to the model and returns its raw response.
	// The response is untrusted: callers parse and validate it themselves.
	// Returns an error if the model could not be reached or produced nothing.
	Extract(ctx context.Context, text string) (string, error)
}

// Provider aggregates the AI services of one backend.
type Provider interface {
	// DealExtractor returns the deal extraction service.
	DealExtractor() DealExtractor

	// Close releases any resources held by the provider.
	Close() error
}
