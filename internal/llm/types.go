package llm

import (
	"context"
	"time"
)

type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
	// DisableThinking asks reasoning-capable backends to skip extended reasoning.
	DisableThinking bool
	// ExtraBody is merged into the top level of the request JSON.
	ExtraBody map[string]any
}

type Message struct {
	Role    string
	Content string
}

// LLM streams a chat completion and returns the accumulated text.
type LLM interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}
