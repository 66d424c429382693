package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// Paced wraps p so every call first waits on lim. The returned Provider
// implements exactly the capability interfaces p implements.
func Paced(p Provider, lim *rate.Limiter) Provider {
	if lim == nil {
		return p
	}
	base := &paced{inner: p, lim: lim}
	chat, isChat := p.(ChatProvider)
	emb, isEmb := p.(EmbeddingProvider)
	switch {
	case isChat && isEmb:
		return pacedBoth{pacedChat{base, chat}, pacedEmbed{base, emb}}
	case isChat:
		return pacedChat{base, chat}
	case isEmb:
		return pacedEmbed{base, emb}
	}
	return base
}

// NewLimiter builds a limiter for rps requests per second with a burst of
// the next whole number. Zero or negative rps disables pacing (nil).
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if float64(burst) < rps {
		burst++
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type paced struct {
	inner Provider
	lim   *rate.Limiter
}

func (p *paced) Name() string { return p.inner.Name() }

type pacedChat struct {
	*paced
	chat ChatProvider
}

func (p pacedChat) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	if err := p.lim.Wait(ctx); err != nil {
		return ChatResult{}, err
	}
	return p.chat.Chat(ctx, req)
}

type pacedEmbed struct {
	*paced
	embed EmbeddingProvider
}

func (p pacedEmbed) Embed(ctx context.Context, text string) (EmbedResult, error) {
	if err := p.lim.Wait(ctx); err != nil {
		return EmbedResult{}, err
	}
	return p.embed.Embed(ctx, text)
}

type pacedBoth struct {
	pacedChat
	pacedEmbed
}

func (p pacedBoth) Name() string { return p.pacedChat.Name() }
