// Package provider routes chat-completion and embedding calls across an
// ordered chain of upstream AI backends.
package provider

import (
	"context"
	"sort"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the normalized chat input every adapter accepts. System is
// the system instruction; Messages never contain a system turn.
type ChatRequest struct {
	System   string
	Messages []Message
}

// ChatResult is the normalized chat output.
type ChatResult struct {
	Text          string
	TokenEstimate int
	Model         string
	Provider      string
	Fallback      bool
}

// EmbedResult is the normalized embedding output. Hybrid is set instead of
// Vector when no configured provider can embed but one can chat.
type EmbedResult struct {
	Vector        []float32
	TokenEstimate int
	Model         string
	Provider      string
	Fallback      bool
	Hybrid        bool
}

// Preferences carries per-call routing hints.
type Preferences struct {
	// Provider is tried first when it is enabled and capable.
	Provider string
}

// Provider is an upstream AI backend.
type Provider interface {
	Name() string
}

// ChatProvider is a Provider that can complete chats.
type ChatProvider interface {
	Provider
	Chat(ctx context.Context, req ChatRequest) (ChatResult, error)
}

// EmbeddingProvider is a Provider that can embed text.
type EmbeddingProvider interface {
	Provider
	Embed(ctx context.Context, text string) (EmbedResult, error)
}

// Capability is a bit set of what a provider supports.
type Capability uint8

const (
	CapChat Capability = 1 << iota
	CapEmbedding
)

func (c Capability) Has(o Capability) bool { return c&o == o }

func (c Capability) String() string {
	switch {
	case c.Has(CapChat | CapEmbedding):
		return "chat,embedding"
	case c.Has(CapChat):
		return "chat"
	case c.Has(CapEmbedding):
		return "embedding"
	}
	return "none"
}

// Fixed priorities of the built-in providers. Lower runs first.
const (
	PriorityGemini = iota
	PriorityOpenAI
	PriorityOpenRouter
	PriorityOllama
)

// Descriptor describes one chain entry.
type Descriptor struct {
	Name         string
	Capabilities Capability
	Priority     int
	Enabled      bool
}

// Registration is a chain entry as supplied at startup. A nil Provider
// registers the name as disabled (no credential configured); Capabilities
// then documents what it would offer.
type Registration struct {
	Name         string
	Priority     int
	Capabilities Capability
	Provider     Provider
}

type entry struct {
	desc  Descriptor
	chat  ChatProvider
	embed EmbeddingProvider
}

// Chain is the immutable, priority-ordered set of providers. Build it once
// with NewChain and share it freely.
type Chain struct {
	entries []entry
}

// NewChain sorts registrations by priority (stable for equal priorities) and
// derives capabilities from the interfaces each provider implements.
func NewChain(regs ...Registration) Chain {
	entries := make([]entry, 0, len(regs))
	for _, r := range regs {
		e := entry{desc: Descriptor{Name: r.Name, Priority: r.Priority, Capabilities: r.Capabilities}}
		if r.Provider != nil {
			e.desc.Enabled = true
			e.desc.Capabilities = 0
			if c, ok := r.Provider.(ChatProvider); ok {
				e.chat = c
				e.desc.Capabilities |= CapChat
			}
			if em, ok := r.Provider.(EmbeddingProvider); ok {
				e.embed = em
				e.desc.Capabilities |= CapEmbedding
			}
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].desc.Priority < entries[j].desc.Priority
	})
	return Chain{entries: entries}
}

// Descriptors lists every registered provider in priority order.
func (c Chain) Descriptors() []Descriptor {
	out := make([]Descriptor, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.desc
	}
	return out
}

// Has reports whether any enabled provider offers capability cp.
func (c Chain) Has(cp Capability) bool {
	for _, e := range c.entries {
		if e.desc.Enabled && e.desc.Capabilities.Has(cp) {
			return true
		}
	}
	return false
}

// ordered returns enabled entries offering cp, the preferred one first.
func (c Chain) ordered(cp Capability, preferred string) []entry {
	var out []entry
	if preferred != "" {
		for _, e := range c.entries {
			if e.desc.Name == preferred && e.desc.Enabled && e.desc.Capabilities.Has(cp) {
				out = append(out, e)
				break
			}
		}
	}
	for _, e := range c.entries {
		if !e.desc.Enabled || !e.desc.Capabilities.Has(cp) {
			continue
		}
		if len(out) > 0 && out[0].desc.Name == e.desc.Name {
			continue
		}
		out = append(out, e)
	}
	return out
}

// EstimateTokens provides a rough token count using a 4 chars per token
// heuristic. Adapters fall back to it when the upstream reports no usage.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
