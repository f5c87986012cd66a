package llm

import (
	"context"
	"log"
)

// GenerationProvider converts a prompt into a natural-language answer.
type GenerationProvider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// GenerationResult carries the generated text and which provider produced it.
type GenerationResult struct {
	Text     string
	Provider string
}

// GenerationClient runs prompts against a primary provider with retry, and
// fails over to an optional secondary provider when the primary reports an
// overload or rate-limit condition.
type GenerationClient struct {
	primary       GenerationProvider
	fallback      GenerationProvider
	retryPrimary  RetryPolicy
	retryFallback RetryPolicy
}

// NewGenerationClient creates a GenerationClient. fallback may be nil.
func NewGenerationClient(primary, fallback GenerationProvider) *GenerationClient {
	return &GenerationClient{
		primary:       primary,
		fallback:      fallback,
		retryPrimary:  NewRetryPolicy(GenerateMaxRetries, DefaultBaseDelay),
		retryFallback: NewRetryPolicy(FallbackMaxRetries, DefaultBaseDelay),
	}
}

// Generate runs the prompt. With no provider configured it fails immediately
// with ErrNoProvider. Errors that are neither overload nor rate-limit
// propagate to the caller without substitution.
func (c *GenerationClient) Generate(ctx context.Context, prompt string) (*GenerationResult, error) {
	if c.primary == nil {
		return nil, ErrNoProvider
	}

	text, err := c.generateWith(ctx, c.primary, c.retryPrimary, prompt)
	if err == nil {
		return &GenerationResult{Text: text, Provider: c.primary.Name()}, nil
	}

	if c.fallback == nil || !ShouldFailover(err) {
		return nil, err
	}

	log.Printf("generation provider %s unavailable (%s), failing over to %s",
		c.primary.Name(), KindOf(err), c.fallback.Name())

	text, ferr := c.generateWith(ctx, c.fallback, c.retryFallback, prompt)
	if ferr != nil {
		return nil, ferr
	}

	return &GenerationResult{Text: text, Provider: c.fallback.Name()}, nil
}

func (c *GenerationClient) generateWith(ctx context.Context, provider GenerationProvider, retry RetryPolicy, prompt string) (string, error) {
	var text string
	err := retry.Do(ctx, func(ctx context.Context) error {
		out, err := provider.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	return text, err
}
