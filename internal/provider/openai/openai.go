// Package openai adapts OpenAI-compatible chat and embedding endpoints to the
// provider interfaces.
package openai

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
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultChatModel  = "gpt-4o-mini"
	defaultEmbedModel = "text-embedding-3-small"
	defaultTimeout    = 60 * time.Second
	maxErrorBody      = 4 << 10
)

// Client implements provider.ChatProvider and provider.EmbeddingProvider.
type Client struct {
	apiKey     string
	baseURL    string
	chatModel  string
	embedModel string
	httpClient *http.Client
}

// Options configures a Client. Zero fields take defaults.
type Options struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
	Timeout    time.Duration
}

// New creates a Client authenticating with apiKey.
func New(apiKey string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.ChatModel == "" {
		opts.ChatModel = defaultChatModel
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = defaultEmbedModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		chatModel:  opts.ChatModel,
		embedModel: opts.EmbedModel,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

func (c *Client) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat sends a non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, req provider.ChatRequest) (provider.ChatResult, error) {
	cr := chatRequest{Model: c.chatModel, Messages: toMessages(req)}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", cr, &resp); err != nil {
		return provider.ChatResult{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return provider.ChatResult{}, fmt.Errorf("openai chat: empty choices")
	}

	text := resp.Choices[0].Message.Content
	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = provider.EstimateTokens(text)
	}
	model := resp.Model
	if model == "" {
		model = c.chatModel
	}
	return provider.ChatResult{Text: text, TokenEstimate: tokens, Model: model}, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) (provider.EmbedResult, error) {
	var resp embedResponse
	if err := c.post(ctx, "/embeddings", embedRequest{Model: c.embedModel, Input: text}, &resp); err != nil {
		return provider.EmbedResult{}, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return provider.EmbedResult{}, fmt.Errorf("openai embed: empty embedding")
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = provider.EstimateTokens(text)
	}
	return provider.EmbedResult{
		Vector:        resp.Data[0].Embedding,
		TokenEstimate: tokens,
		Model:         c.embedModel,
	}, nil
}

// toMessages converts a provider.ChatRequest into the OpenAI message list, with
// the system instruction first.
func toMessages(req provider.ChatRequest) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: string(provider.RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &provider.StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
