package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// LocalClient talks to a locally-hosted model server (e.g. an
// OpenAI-compatible endpoint in front of a self-hosted model) over HTTP.
// This is the "fast" backend behind Router.
type LocalClient struct {
	baseURL string
	model   string
	http    *http.Client
}

func NewLocalClient(baseURL, model string, httpClient *http.Client) *LocalClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LocalClient{baseURL: baseURL, model: model, http: httpClient}
}

type localChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	Seed        int64     `json:"seed,omitempty"`
}

type localChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
}

func (c *LocalClient) Chat(ctx context.Context, messages []Message, options SamplingOptions) (string, string, error) {
	body, err := json.Marshal(localChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: options.Temperature,
		TopP:        options.TopP,
		Seed:        options.Seed,
	})
	if err != nil {
		return "", "", fmt.Errorf("llmprovider: local client: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("llmprovider: local client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("llmprovider: local client: call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("llmprovider: local client: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("llmprovider: local client: status %d: %s", resp.StatusCode, string(raw))
	}

	var out localChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", "", fmt.Errorf("llmprovider: local client: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", "", fmt.Errorf("llmprovider: local client: empty choices")
	}
	return out.Choices[0].Message.Content, out.Model, nil
}
