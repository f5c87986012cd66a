package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ProviderOpenAI names the OpenAI provider in results and errors.
const ProviderOpenAI = "openai"

// OpenAIConfig holds connection settings for the OpenAI API.
type OpenAIConfig struct {
	APIKey    string
	ChatModel string
}

// OpenAIClient wraps the OpenAI chat completion API as a GenerationProvider.
// It serves as the fallback when the primary provider is overloaded.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAIClient with the given configuration.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	model := cfg.ChatModel
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
	}
}

// Name implements GenerationProvider.
func (c *OpenAIClient) Name() string {
	return ProviderOpenAI
}

// Generate produces a completion for prompt via the chat completion API.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", NewProviderError(ProviderOpenAI, ErrorKindPermanent, 0, fmt.Errorf("response has no choices"))
	}

	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewProviderError(ProviderOpenAI, ClassifyStatus(apiErr.HTTPStatusCode), apiErr.HTTPStatusCode, err)
	}
	// No API error means the request never got a response.
	return NewProviderError(ProviderOpenAI, ErrorKindTransient, 0, err)
}
