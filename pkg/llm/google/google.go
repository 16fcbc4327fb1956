// Package google adapts the Gemini API (generative-ai-go) to the llm
// contracts.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/marketpulse/signals/pkg/llm"
)

const provider = "google"

// Client implements llm.Completer and llm.Embedder.
type Client struct {
	options llm.Options
	client  *genai.Client
}

func New(ctx context.Context, opts ...llm.Option) (*Client, error) {
	options := llm.NewOptions(opts...)
	clientOpts := []option.ClientOption{option.WithAPIKey(options.APIKey)}
	if options.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(options.BaseURL))
	}
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: new client: %w", provider, err)
	}
	return &Client{options: options, client: client}, nil
}

func (c *Client) Close() error { return c.client.Close() }

func configure(model *genai.GenerativeModel, p llm.Params) {
	model.SetTemperature(p.Temperature)
	if p.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(p.MaxTokens))
	}
	if p.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.SystemPrompt)}}
	}
	if p.JSON {
		model.ResponseMIMEType = "application/json"
	}
}

func (c *Client) Complete(ctx context.Context, prompt string, p llm.Params) (string, error) {
	model := c.client.GenerativeModel(c.options.Model)
	configure(model, p)

	rsp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", wrap("complete", err)
	}
	text := responseText(rsp)
	if text == "" {
		return "", fmt.Errorf("%s: complete: %w", provider, llm.ErrEmptyResponse)
	}
	return text, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	rsp, err := c.client.EmbeddingModel(c.options.Model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, wrap("embed", err)
	}
	if rsp == nil || rsp.Embedding == nil || len(rsp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%s: embed: %w", provider, llm.ErrEmptyResponse)
	}
	return rsp.Embedding.Values, nil
}

// responseText joins the text parts of the first candidate.
func responseText(rsp *genai.GenerateContentResponse) string {
	if rsp == nil || len(rsp.Candidates) == 0 || rsp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range rsp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

func wrap(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &llm.StatusError{Provider: provider, Code: gerr.Code, Err: err}
	}
	return fmt.Errorf("%s: %s: %w", provider, op, err)
}
