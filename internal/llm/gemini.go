package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// ProviderGemini names the Gemini provider in results and errors.
	ProviderGemini = "gemini"

	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// GeminiConfig holds connection settings for the Gemini API.
type GeminiConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
}

// GeminiClient talks to the Gemini REST API. It implements both
// EmbeddingProvider and GenerationProvider.
type GeminiClient struct {
	cfg        GeminiConfig
	httpClient *http.Client
}

// NewGeminiClient creates a new GeminiClient with the given configuration.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-004"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gemini-1.5-flash"
	}
	return &GeminiClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Name implements GenerationProvider.
func (c *GeminiClient) Name() string {
	return ProviderGemini
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiEmbedRequest struct {
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

type geminiGenerateRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Embed converts text into an embedding vector via the embedContent endpoint.
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.cfg.APIKey == "" {
		return nil, NewProviderError(ProviderGemini, ErrorKindConfig, 0, fmt.Errorf("api key not configured"))
	}

	url := fmt.Sprintf("%s/models/%s:embedContent", c.cfg.BaseURL, c.cfg.EmbeddingModel)
	reqBody := geminiEmbedRequest{
		Content: geminiContent{Parts: []geminiPart{{Text: text}}},
	}

	var resp geminiEmbedResponse
	if err := c.post(ctx, url, reqBody, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embedding.Values) == 0 {
		return nil, NewProviderError(ProviderGemini, ErrorKindPermanent, 0, fmt.Errorf("response payload lacks an embedding"))
	}

	return resp.Embedding.Values, nil
}

// Generate produces a completion for prompt via the generateContent endpoint.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", NewProviderError(ProviderGemini, ErrorKindConfig, 0, fmt.Errorf("api key not configured"))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, c.cfg.ChatModel)
	reqBody := geminiGenerateRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	}

	var resp geminiGenerateResponse
	if err := c.post(ctx, url, reqBody, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", NewProviderError(ProviderGemini, ErrorKindPermanent, 0, fmt.Errorf("response has no candidates"))
	}

	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		out += part.Text
	}
	return out, nil
}

func (c *GeminiClient) post(ctx context.Context, url string, reqBody, respBody interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return NewProviderError(ProviderGemini, ErrorKindPermanent, 0, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return NewProviderError(ProviderGemini, ErrorKindPermanent, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failure, retryable.
		return NewProviderError(ProviderGemini, ErrorKindTransient, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return NewProviderError(ProviderGemini, ClassifyStatus(resp.StatusCode), resp.StatusCode,
			fmt.Errorf("unexpected status: %s", bytes.TrimSpace(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return NewProviderError(ProviderGemini, ErrorKindPermanent, 0, fmt.Errorf("failed to decode response: %w", err))
	}

	return nil
}
