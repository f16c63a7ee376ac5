// Package mock provides test doubles for ai.Embedder.
//
// The mocks allow tests to run without an embedding service and give
// controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	embedder := mock.NewMockEmbedder(8)
//	vectors, err := embedder.EmbedTexts(ctx, []string{"a", "b"})
//
//	// Custom behavior injection
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("backend down")
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//
// By default the same text always yields the same unit-length vector.
package mock
