// Package ollama talks to a local Ollama server over its HTTP API for
// embeddings and chat completions.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/marketpulse/signals/pkg/llm"
)

const provider = "ollama"

// DefaultBaseURL is where a local Ollama server listens.
const DefaultBaseURL = "http://localhost:11434"

// Client implements llm.Embedder and llm.Completer.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

func New(opts ...llm.Option) *Client {
	o := llm.NewOptions(opts...)
	base := strings.TrimRight(o.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{baseURL: base, model: o.Model, http: o.HTTPClient}
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResp
	if err := c.post(ctx, "/api/embeddings", embedReq{Model: c.model, Prompt: text}, &out); err != nil {
		return nil, fmt.Errorf("%s: embed: %w", provider, err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%s: embed: %w", provider, llm.ErrEmptyResponse)
	}
	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &llm.StatusError{Provider: provider, Code: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
