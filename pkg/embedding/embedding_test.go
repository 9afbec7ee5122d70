package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfp-smart-go/internal/config"
)

func l2(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestVectorize_LengthAndNorm(t *testing.T) {
	for _, text := range []string{"a", "hello world", "Réponse à l'appel d'offres ✓"} {
		v := Vectorize(text)
		require.Len(t, v, PlaceholderDimensions)
		assert.InDelta(t, 1.0, l2(v), 1e-5, text)
	}
}

func TestVectorize_EmptyIsZero(t *testing.T) {
	v := Vectorize("")
	require.Len(t, v, PlaceholderDimensions)
	assert.Equal(t, 0.0, l2(v))
}

func TestVectorize_Deterministic(t *testing.T) {
	assert.Equal(t, Vectorize("same input"), Vectorize("same input"))
	assert.NotEqual(t, Vectorize("input a"), Vectorize("input b"))
}

func TestVectorize_WrapsAroundDimensions(t *testing.T) {
	// Characters beyond the first 1536 still contribute to the vector.
	base := make([]rune, PlaceholderDimensions)
	for i := range base {
		base[i] = 'a'
	}
	short := Vectorize(string(base))
	long := Vectorize(string(base) + "zzz")
	assert.NotEqual(t, short, long)
}

func TestVectorize_SingleCharacter(t *testing.T) {
	v := Vectorize("A")
	assert.InDelta(t, 1.0, v[0], 1e-6)
	for _, x := range v[1:] {
		assert.Zero(t, x)
	}
}

func TestNewClient_Providers(t *testing.T) {
	assert.IsType(t, placeholderClient{}, NewClient(config.EmbeddingConfig{}))
	assert.IsType(t, placeholderClient{}, NewClient(config.EmbeddingConfig{Provider: "unknown"}))
	assert.IsType(t, &openAICompatibleClient{}, NewClient(config.EmbeddingConfig{Provider: "openai"}))
}

func TestPlaceholderClient_CreateEmbedding(t *testing.T) {
	c := NewPlaceholderClient()
	v, err := c.CreateEmbedding(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, Vectorize("query"), v)
	assert.Equal(t, PlaceholderDimensions, c.Dimensions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.CreateEmbedding(ctx, "query")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenAICompatibleClient_CreateEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"hello"}, req.Input)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{Provider: "openai", BaseURL: srv.URL, APIKey: "key", Model: "m", Dimensions: 3})
	v, err := c.CreateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)

	c = NewClient(config.EmbeddingConfig{Provider: "openai", BaseURL: srv.URL, APIKey: "key", Model: "m", Dimensions: 4})
	_, err = c.CreateEmbedding(context.Background(), "hello")
	assert.Error(t, err)
}
