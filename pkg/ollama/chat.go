package ollama

import (
	"context"
	"fmt"

	"github.com/marketpulse/signals/pkg/llm"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatReq struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  chatOptions   `json:"options"`
}

type chatResp struct {
	Message chatMessage `json:"message"`
}

func (c *Client) Complete(ctx context.Context, prompt string, p llm.Params) (string, error) {
	req := chatReq{
		Model:   c.model,
		Stream:  false,
		Options: chatOptions{Temperature: p.Temperature, NumPredict: p.MaxTokens},
	}
	if p.SystemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: p.SystemPrompt})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt})
	if p.JSON {
		req.Format = "json"
	}

	var out chatResp
	if err := c.post(ctx, "/api/chat", req, &out); err != nil {
		return "", fmt.Errorf("%s: complete: %w", provider, err)
	}
	if out.Message.Content == "" {
		return "", fmt.Errorf("%s: complete: %w", provider, llm.ErrEmptyResponse)
	}
	return out.Message.Content, nil
}
