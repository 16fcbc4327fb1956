// Package openai adapts go-openai to the llm contracts. BaseURL lets the
// same client reach any OpenAI-compatible endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/marketpulse/signals/pkg/llm"
)

const provider = "openai"

// Client implements llm.Completer and llm.Embedder.
type Client struct {
	options llm.Options
	client  *goopenai.Client
}

func New(opts ...llm.Option) *Client {
	options := llm.NewOptions(opts...)
	cfg := goopenai.DefaultConfig(options.APIKey)
	if options.BaseURL != "" {
		cfg.BaseURL = options.BaseURL
	}
	cfg.HTTPClient = options.HTTPClient
	return &Client{options: options, client: goopenai.NewClientWithConfig(cfg)}
}

func (c *Client) Complete(ctx context.Context, prompt string, p llm.Params) (string, error) {
	var msgs []goopenai.ChatCompletionMessage
	if p.SystemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: p.SystemPrompt})
	}
	msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt})

	req := goopenai.ChatCompletionRequest{
		Model:       c.options.Model,
		Messages:    msgs,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}
	if p.JSON {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
	}

	rsp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrap(err)
	}
	if len(rsp.Choices) == 0 || rsp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%s: complete: %w", provider, llm.ErrEmptyResponse)
	}
	return rsp.Choices[0].Message.Content, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	rsp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(c.options.Model),
	})
	if err != nil {
		return nil, wrap(err)
	}
	if len(rsp.Data) == 0 || len(rsp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%s: embed: %w", provider, llm.ErrEmptyResponse)
	}
	return rsp.Data[0].Embedding, nil
}

func wrap(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &llm.StatusError{Provider: provider, Code: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &llm.StatusError{Provider: provider, Code: reqErr.HTTPStatusCode, Err: err}
	}
	return fmt.Errorf("%s: %w", provider, err)
}
