// Package openrouter adapts the OpenRouter chat API. OpenRouter offers no
// embeddings, so Client implements provider.ChatProvider only.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/lectern/internal/provider"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "openai/gpt-4o-mini"
	defaultTimeout = 60 * time.Second
)

// Client communicates with the OpenRouter API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	referer    string
	title      string
}

// NewClient creates an OpenRouter client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		referer: "https://github.com/kalambet/lectern",
		title:   "lectern",
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL.
func NewClientWithBaseURL(apiKey, model, baseURL string) *Client {
	c := NewClient(apiKey, model)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

func (c *Client) Name() string { return "openrouter" }

// Chat sends a non-streaming chat completion request.
func (c *Client) Chat(ctx context.Context, req provider.ChatRequest) (provider.ChatResult, error) {
	body, err := json.Marshal(newChatRequest(c.model, req))
	if err != nil {
		return provider.ChatResult{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return provider.ChatResult{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return provider.ChatResult{}, fmt.Errorf("openrouter chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return provider.ChatResult{}, fmt.Errorf("openrouter chat: %w", &provider.StatusError{Code: resp.StatusCode, Body: string(respBody)})
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return provider.ChatResult{}, fmt.Errorf("decoding response: %w", err)
	}
	// OpenRouter reports some upstream failures in a 200 body.
	if cr.Error != nil {
		return provider.ChatResult{}, fmt.Errorf("openrouter chat: %w", &provider.StatusError{Code: cr.Error.Code, Body: cr.Error.Message})
	}
	if len(cr.Choices) == 0 {
		return provider.ChatResult{}, fmt.Errorf("openrouter chat: empty choices")
	}

	text := cr.Choices[0].Message.Content
	tokens := cr.Usage.TotalTokens
	if tokens == 0 {
		tokens = provider.EstimateTokens(text)
	}
	model := cr.Model
	if model == "" {
		model = c.model
	}
	return provider.ChatResult{Text: text, TokenEstimate: tokens, Model: model}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}
