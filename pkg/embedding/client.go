// Package embedding provides clients that turn text into fixed-length vectors.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/pkg/log"
)

// Client defines the interface for an embedding client.
// The same client must be used for chunks and for queries.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	ModelVersion() string
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewClient creates a new embedding client based on the provider in the config.
// Unknown or empty providers fall back to the placeholder vectorizer.
func NewClient(cfg config.EmbeddingConfig) Client {
	switch cfg.Provider {
	case "openai":
		return &openAICompatibleClient{
			cfg:    cfg,
			client: &http.Client{Timeout: 60 * time.Second},
		}
	case "", "placeholder":
		return NewPlaceholderClient()
	default:
		log.Warnf("[EmbeddingClient] 未知的 embedding provider '%s', 使用 placeholder", cfg.Provider)
		return NewPlaceholderClient()
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// CreateEmbedding calls the OpenAI-compatible API to get the vector for a given text.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	log.Debugf("[EmbeddingClient] 调用 Embedding API, model: %s, input_len: %d", c.cfg.Model, len(text))
	reqBytes, err := json.Marshal(embeddingRequest{
		Model:      c.cfg.Model,
		Input:      []string{text},
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(embeddingResp.Data) == 0 || len(embeddingResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from api")
	}
	vec := embeddingResp.Data[0].Embedding
	if c.cfg.Dimensions > 0 && len(vec) != c.cfg.Dimensions {
		return nil, fmt.Errorf("embedding api returned %d dimensions, want %d", len(vec), c.cfg.Dimensions)
	}
	return vec, nil
}

func (c *openAICompatibleClient) Dimensions() int {
	return c.cfg.Dimensions
}

func (c *openAICompatibleClient) ModelVersion() string {
	return c.cfg.Model
}
