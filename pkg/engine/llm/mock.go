package llm

import "context"

// MockClient is a deterministic, in-memory Client for tests and examples.
// By default it returns a fixed response on Complete/Stream; WithResponses
// cycles a scripted sequence, and WithError/WithCompleteFunc/WithStreamFunc
// override the default behavior entirely.
type MockClient struct {
	// Calls records every request passed to Complete, in order.
	Calls []CompletionRequest

	responses    []string
	idx          int
	err          error
	completeFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	streamFunc   func(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// NewMockClient creates a MockClient that always returns response.
func NewMockClient(response string) *MockClient {
	return &MockClient{responses: []string{response}}
}

// WithResponses replaces the scripted response sequence; Complete cycles
// through them in order, wrapping back to the first once exhausted.
func (m *MockClient) WithResponses(responses ...string) *MockClient {
	m.responses = responses
	m.idx = 0
	return m
}

// WithError makes Complete and Stream fail with err instead of responding.
func (m *MockClient) WithError(err error) *MockClient {
	m.err = err
	return m
}

// WithCompleteFunc overrides Complete's behavior entirely.
func (m *MockClient) WithCompleteFunc(fn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.completeFunc = fn
	return m
}

// WithStreamFunc overrides Stream's behavior entirely.
func (m *MockClient) WithStreamFunc(fn func(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)) *MockClient {
	m.streamFunc = fn
	return m
}

// CallCount returns the number of times Complete has been called.
func (m *MockClient) CallCount() int {
	return len(m.Calls)
}

// LastCall returns the most recent request passed to Complete, or nil if
// Complete has not been called.
func (m *MockClient) LastCall() *CompletionRequest {
	if len(m.Calls) == 0 {
		return nil
	}
	return &m.Calls[len(m.Calls)-1]
}

// Reset clears call history and rewinds the scripted response sequence.
func (m *MockClient) Reset() {
	m.Calls = nil
	m.idx = 0
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.Calls = append(m.Calls, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.completeFunc != nil {
		return m.completeFunc(ctx, req)
	}

	content := m.nextResponse()
	return &CompletionResponse{
		Content:      content,
		FinishReason: "stop",
		Usage:        approxUsage(req, content),
	}, nil
}

// Stream implements Client, delivering the scripted response as a single chunk.
func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.streamFunc != nil {
		return m.streamFunc(ctx, req)
	}

	content := m.nextResponse()
	ch := make(chan StreamChunk, 1)
	go func() {
		defer close(ch)
		if err := ctx.Err(); err != nil {
			ch <- StreamChunk{Error: err}
			return
		}
		usage := approxUsage(req, content)
		ch <- StreamChunk{Content: content, Done: true, Usage: &usage}
	}()
	return ch, nil
}

func (m *MockClient) nextResponse() string {
	if len(m.responses) == 0 {
		return ""
	}
	r := m.responses[m.idx%len(m.responses)]
	m.idx++
	return r
}

// approxUsage estimates token counts the way a real provider would report
// them, without needing a tokenizer: roughly four characters per token,
// floored at one token for any non-trivial call.
func approxUsage(req CompletionRequest, content string) TokenUsage {
	var reqChars int
	reqChars += len(req.SystemPrompt)
	for _, msg := range req.Messages {
		reqChars += len(msg.Content)
	}

	in := approxTokens(reqChars)
	out := approxTokens(len(content))
	return TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

func approxTokens(chars int) int {
	n := chars / 4
	if n < 1 {
		n = 1
	}
	return n
}
