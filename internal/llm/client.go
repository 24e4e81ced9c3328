package llm

import (
	"context"
)

// Client is the transport to one LLM provider. Implementations send a single
// prompt and return the raw text of the reply.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
