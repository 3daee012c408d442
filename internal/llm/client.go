// Package llm provides backend clients for suspect dialogue generation.
// Three backends are supported: a local ollama server, any OpenAI-compatible
// API, and Google Gemini. All clients retry transient failures with doubling
// backoff before giving up.
package llm

import "context"

// Message is one turn of an interrogation transcript.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Options control generation behavior. ContextWindow and KeepAlive are
// ollama-only; other backends ignore them.
type Options struct {
	Temperature   float64
	ContextWindow int
	MaxTokens     int // per-turn cap for suspect replies
	KeepAlive     string
}

// Client is the backend-neutral interface the interrogation engine talks to.
type Client interface {
	// Chat sends the persona system prompt and the transcript so far
	// (ending with the player's latest line) and returns the suspect's
	// full reply.
	Chat(ctx context.Context, system string, history []Message) (string, error)

	// ChatStream is Chat with incremental delivery: onToken is invoked for
	// each content delta as it arrives. The assembled reply is returned
	// once the stream ends.
	ChatStream(ctx context.Context, system string, history []Message, onToken func(string)) (string, error)

	// Complete runs a one-shot generation with no persona context. Used for
	// warm-up generations such as the case intro and the load recap, which
	// need their own token budgets.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)

	// CompleteStream is Complete with incremental delivery.
	CompleteStream(ctx context.Context, prompt string, maxTokens int, onToken func(string)) (string, error)

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error

	// Model returns the model identifier in use.
	Model() string

	// SetModel changes the model used for generation.
	SetModel(model string)
}
