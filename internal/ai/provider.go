package ai

import "context"

// Message is one turn of provider input.
type Message struct {
	Role    string
	Content string
}

// Provider generates a completion for an ordered conversation.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
