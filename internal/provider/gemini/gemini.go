// Package gemini adapts the Google Gemini API to the provider interfaces.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/kalambet/lectern/internal/provider"
)

const (
	defaultChatModel  = "gemini-2.5-flash"
	defaultEmbedModel = "text-embedding-004"
)

// api is the part of the genai SDK the adapter uses.
type api interface {
	sendMessage(ctx context.Context, model, system string, history []*genai.Content, text string) (*genai.GenerateContentResponse, error)
	embedContent(ctx context.Context, model, text string) (*genai.EmbedContentResponse, error)
	close() error
}

// sdk is the api backed by a genai.Client.
type sdk struct {
	client *genai.Client
}

func (s sdk) sendMessage(ctx context.Context, model, system string, history []*genai.Content, text string) (*genai.GenerateContentResponse, error) {
	m := s.client.GenerativeModel(model)
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	cs := m.StartChat()
	cs.History = history
	return cs.SendMessage(ctx, genai.Text(text))
}

func (s sdk) embedContent(ctx context.Context, model, text string) (*genai.EmbedContentResponse, error) {
	return s.client.EmbeddingModel(model).EmbedContent(ctx, genai.Text(text))
}

func (s sdk) close() error { return s.client.Close() }

// Client implements provider.ChatProvider and provider.EmbeddingProvider.
type Client struct {
	api        api
	chatModel  string
	embedModel string
}

// New creates a Gemini client authenticating with apiKey.
func New(ctx context.Context, apiKey, chatModel, embedModel string) (*Client, error) {
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return newClient(sdk{client: c}, chatModel, embedModel), nil
}

func newClient(a api, chatModel, embedModel string) *Client {
	if chatModel == "" {
		chatModel = defaultChatModel
	}
	if embedModel == "" {
		embedModel = defaultEmbedModel
	}
	return &Client{api: a, chatModel: chatModel, embedModel: embedModel}
}

func (c *Client) Name() string { return "gemini" }

// Close releases the underlying client.
func (c *Client) Close() error { return c.api.close() }

// Chat replays all but the last message as history and sends the last one.
// req.System becomes the model's system instruction.
func (c *Client) Chat(ctx context.Context, req provider.ChatRequest) (provider.ChatResult, error) {
	history, last, err := splitHistory(req.Messages)
	if err != nil {
		return provider.ChatResult{}, fmt.Errorf("gemini chat: %w", err)
	}

	resp, err := c.api.sendMessage(ctx, c.chatModel, req.System, history, last)
	if err != nil {
		return provider.ChatResult{}, fmt.Errorf("gemini chat: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return provider.ChatResult{}, fmt.Errorf("gemini chat: empty response")
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if tokens == 0 {
		tokens = provider.EstimateTokens(text)
	}
	return provider.ChatResult{Text: text, TokenEstimate: tokens, Model: c.chatModel}, nil
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) (provider.EmbedResult, error) {
	res, err := c.api.embedContent(ctx, c.embedModel, text)
	if err != nil {
		return provider.EmbedResult{}, fmt.Errorf("gemini embed: %w", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return provider.EmbedResult{}, fmt.Errorf("gemini embed: empty embedding")
	}
	return provider.EmbedResult{
		Vector:        res.Embedding.Values,
		TokenEstimate: provider.EstimateTokens(text),
		Model:         c.embedModel,
	}, nil
}

// splitHistory converts messages into Gemini history plus the final user
// turn. Gemini calls the assistant role "model".
func splitHistory(msgs []provider.Message) ([]*genai.Content, string, error) {
	if len(msgs) == 0 {
		return nil, "", fmt.Errorf("no messages")
	}
	last := msgs[len(msgs)-1]
	if last.Role != provider.RoleUser {
		return nil, "", fmt.Errorf("last message must be from the user, got %q", last.Role)
	}

	history := make([]*genai.Content, 0, len(msgs)-1)
	for _, m := range msgs[:len(msgs)-1] {
		role := "user"
		if m.Role == provider.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return history, last.Content, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
