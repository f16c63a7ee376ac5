package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder wraps an Embedder with a token-bucket limiter.
// Each call consumes one token regardless of batch size.
type RateLimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder limits next to rps calls per second with the given burst.
// A non-positive rps returns next unchanged.
func NewRateLimitedEmbedder(next Embedder, rps float64, burst int) Embedder {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// EmbedText waits for a token, then delegates.
func (e *RateLimitedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.next.EmbedText(ctx, text)
}

// EmbedTexts waits for a token, then delegates.
func (e *RateLimitedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.next.EmbedTexts(ctx, texts)
}
