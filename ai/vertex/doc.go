// Package vertex provides an ai.Provider backed by Gemini models on Vertex AI.
//
// Credentials come from Application Default Credentials. The model runs at
// temperature zero with a JSON response MIME type and the shared deal
// extraction prompt as its system instruction.
//
//	cfg := ai.NewConfig(ai.WithVertex("acme-prod", "us-central1"), ai.WithModel("gemini-1.5-pro"))
//	provider, err := vertex.NewProvider(ctx, cfg)
package vertex
