// Package embedding provides the text-embedding client used by semantic
// search. Supports OpenAI-compatible APIs (OpenAI, Ollama, local servers)
// plus a deterministic offline fallback.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mcp-jive/jive/internal/metrics"
	"github.com/mcp-jive/jive/internal/telemetry"
)

// DefaultDims is the embedding dimensionality used across the store.
const DefaultDims = 384

// Embedder converts text into a fixed-dimension float vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// ClientConfig holds connection details for an embedding provider.
type ClientConfig struct {
	BaseURL string `json:"base_url"` // e.g. "https://api.openai.com/v1"
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model"` // e.g. "text-embedding-3-small"
	Dims    int    `json:"dims,omitempty"`
}

// Client implements Embedder against any OpenAI-compatible /embeddings
// endpoint.
type Client struct {
	config ClientConfig
	client *http.Client
}

// perCallTimeout is the soft limit on a single embedding request; the storage
// retry policy handles the resulting failures.
const perCallTimeout = 5 * time.Second

// NewClient creates a client for an OpenAI-compatible embedding endpoint.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Dims == 0 {
		cfg.Dims = DefaultDims
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: perCallTimeout},
	}
}

// Dims returns the configured embedding dimensionality.
func (c *Client) Dims() int { return c.config.Dims }

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests a single embedding.
func (c *Client) Embed(ctx context.Context, text string) (vec []float32, err error) {
	ctx, span := telemetry.StartEmbedSpan(ctx, c.config.BaseURL, len(text))
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordEmbedding(status)
		span.End()
	}()

	body, err := json.Marshal(embeddingRequest{
		Model:      c.config.Model,
		Input:      text,
		Dimensions: c.config.Dims,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.config.BaseURL + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("provider returned no embeddings")
	}
	vec = parsed.Data[0].Embedding
	if len(vec) != c.config.Dims {
		return nil, fmt.Errorf("provider returned %d dims, expected %d", len(vec), c.config.Dims)
	}
	return vec, nil
}
