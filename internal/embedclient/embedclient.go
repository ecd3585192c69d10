// Package embedclient is the HTTP client for the embedding service
// (an external collaborator per spec §1). Grounded on
// unified-rag-service's generateEmbeddingViaOllama (POST with a 30s
// http.Client timeout, JSON decode of an `embedding` field), generalized
// to the batched request shape of spec §4.5
// ({model, input, dimension, encoding_format=float}) and its retry policy:
// up to 3 retries after the first attempt, 1s fixed delay, retrying only
// transport errors and 5xx responses.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"knowledge-hub/internal/apperr"
)

type Client struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
}

func New(baseURL, model string, dimension int) *Client {
	return &Client{
		baseURL:    baseURL,
		model:      model,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type embedRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	Dimension      int      `json:"dimension"`
	EncodingFormat string   `json:"encoding_format"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

const (
	maxRetries  = 3
	retryDelay  = 1 * time.Second
	maxBatch    = 100
)

// EmbedBatch embeds up to maxBatch texts in a single call. Callers are
// responsible for splitting longer input lists (spec §4.5 step 2).
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > maxBatch {
		texts = texts[:maxBatch]
	}

	body, err := json.Marshal(embedRequest{
		Model: c.model, Input: texts, Dimension: c.dimension, EncodingFormat: "float",
	})
	if err != nil {
		return nil, apperr.Upstream("marshal embedding request", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, apperr.Upstream("embedding request canceled", ctx.Err())
			case <-time.After(retryDelay):
			}
		}

		vectors, retryable, err := c.doOnce(ctx, body)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, body []byte) (vectors [][]float32, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, apperr.Upstream("build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, apperr.Upstream("call embedding service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, apperr.Upstream("embedding service unavailable", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, apperr.Upstream("embedding service rejected request", nil)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, apperr.Upstream("decode embedding response", err)
	}
	return out.Embeddings, false, nil
}
