// Package anthropic adapts the Anthropic Messages API to llm.Completer.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/marketpulse/signals/pkg/llm"
)

const (
	provider         = "anthropic"
	defaultMaxTokens = 1024
)

type Client struct {
	options llm.Options
	client  sdk.Client
}

// New builds a client. SDK-level retries are disabled; wrap the client in
// an llm.Guard for retry.
func New(opts ...llm.Option) *Client {
	options := llm.NewOptions(opts...)
	reqOpts := []option.RequestOption{
		option.WithAPIKey(options.APIKey),
		option.WithHTTPClient(options.HTTPClient),
		option.WithMaxRetries(0),
	}
	if options.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(options.BaseURL))
	}
	return &Client{options: options, client: sdk.NewClient(reqOpts...)}
}

func (c *Client) Complete(ctx context.Context, prompt string, p llm.Params) (string, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req := sdk.MessageNewParams{
		Model:     sdk.Model(c.options.Model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
		Temperature: sdk.Float(float64(p.Temperature)),
	}
	if p.SystemPrompt != "" {
		req.System = []sdk.TextBlockParam{{Text: p.SystemPrompt}}
	}

	rsp, err := c.client.Messages.New(ctx, req)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", &llm.StatusError{Provider: provider, Code: apiErr.StatusCode, Err: err}
		}
		return "", fmt.Errorf("%s: complete: %w", provider, err)
	}

	var b strings.Builder
	for _, block := range rsp.Content {
		if text, ok := block.AsAny().(sdk.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%s: complete: %w", provider, llm.ErrEmptyResponse)
	}
	return b.String(), nil
}
