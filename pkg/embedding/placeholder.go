package embedding

import (
	"context"
	"math"
)

// PlaceholderDimensions is the fixed length of placeholder vectors.
const PlaceholderDimensions = 1536

// Vectorize maps text to a deterministic, L2-normalised vector of PlaceholderDimensions
// components. The code point at position i adds code/255 to component i mod 1536.
// Empty text (or any text whose vector has zero norm) yields the all-zero vector.
func Vectorize(text string) []float32 {
	acc := make([]float64, PlaceholderDimensions)
	i := 0
	for _, r := range text {
		acc[i%PlaceholderDimensions] += float64(r) / 255
		i++
	}

	var sum float64
	for _, v := range acc {
		sum += v * v
	}
	norm := math.Sqrt(sum)

	out := make([]float32, PlaceholderDimensions)
	if norm == 0 {
		return out
	}
	for k, v := range acc {
		out[k] = float32(v / norm)
	}
	return out
}

// placeholderClient implements Client with Vectorize. It never fails and makes no network calls.
type placeholderClient struct{}

// NewPlaceholderClient returns the deterministic local vectorizer.
func NewPlaceholderClient() Client {
	return placeholderClient{}
}

func (placeholderClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Vectorize(text), nil
}

func (placeholderClient) Dimensions() int {
	return PlaceholderDimensions
}

func (placeholderClient) ModelVersion() string {
	return "placeholder-v1"
}
