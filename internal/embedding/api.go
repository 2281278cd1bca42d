package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// APIProvider implements Provider using an OpenAI-compatible embeddings API.
type APIProvider struct {
	endpoint     string
	model        string
	apiKey       string
	dimension    int
	retries      int
	retryDelayMS int
	client       *http.Client

	mu     sync.RWMutex
	dimSet int
}

// NewAPIProvider creates a new APIProvider from the given Config.
func NewAPIProvider(cfg Config) *APIProvider {
	return &APIProvider{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		dimension:    cfg.Dimension,
		retries:      cfg.Retries,
		retryDelayMS: cfg.RetryDelayMS,
		client:       http.DefaultClient,
	}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type apiResponse struct {
	Data []apiEmbeddingData `json:"data"`
}

// Embed sends texts to the OpenAI-compatible endpoint and returns embeddings
// in input order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(apiRequest{
		Model: p.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	var result apiResponse
	err = withRetry(ctx, p.retries, p.retryDelayMS, func() error {
		result = apiResponse{}
		return p.post(ctx, body, &result)
	})
	if err != nil {
		return nil, err
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(result.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for i, d := range result.Data {
		idx := d.Index
		if idx < 0 || idx >= len(texts) || embeddings[idx] != nil {
			idx = i
		}
		embeddings[idx] = d.Embedding
	}

	p.remember(embeddings)
	return embeddings, nil
}

func (p *APIProvider) post(ctx context.Context, body []byte, out *apiResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("embedding: decode response: %w", err)
	}
	return nil
}

func (p *APIProvider) remember(embeddings [][]float32) {
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return
	}
	p.mu.Lock()
	if p.dimSet == 0 {
		p.dimSet = len(embeddings[0])
	}
	p.mu.Unlock()
}

// Dimension returns the embedding vector dimension.
// It returns the dimension of the first result, or the configured default.
func (p *APIProvider) Dimension() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.dimSet > 0 {
		return p.dimSet
	}
	return p.dimension
}
