package llm

import "context"

// Client is the interface that all model providers implement. Chat is
// single-shot: it returns the complete reply text once the provider has
// finished, even when the underlying transport streams.
type Client interface {
	Chat(ctx context.Context, req Request) (string, error)
}
