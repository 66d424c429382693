package openrouter

import "github.com/kalambet/lectern/internal/provider"

// message is an OpenAI-compatible chat message.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the OpenAI-compatible chat completion request.
type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newChatRequest(model string, req provider.ChatRequest) chatRequest {
	msgs := make([]message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, message{Role: string(provider.RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, message{Role: string(m.Role), Content: m.Content})
	}
	return chatRequest{Model: model, Messages: msgs}
}
