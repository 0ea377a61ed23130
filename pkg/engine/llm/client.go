package llm

import "context"

// Client is the contract nodes use to invoke a language model. Engine code
// never depends on a concrete provider: ClaudeCLI and MockClient are the two
// implementations shipped here, and callers may supply their own.
type Client interface {
	// Complete runs a single, non-streaming completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream runs a completion and delivers incremental chunks on the
	// returned channel. The channel is closed when the response is done
	// or ctx is canceled; the final chunk on success has Done set.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

var (
	_ Client = (*ClaudeCLI)(nil)
	_ Client = (*MockClient)(nil)
)
