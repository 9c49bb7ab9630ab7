package llm

import (
	"context"
	"sync"
)

// MockReply is what a MockClient answers when no GenerateFunc is set.
const MockReply = "Thanks for reaching out! I'd be glad to help you find a tour."

// MockClient is a test double for Client. It also backs the "mock" provider
// so the service can run without generator credentials.
type MockClient struct {
	ProviderName string
	GenerateFunc func(ctx context.Context, prompt string, cfg GenerateConfig) (*Generation, error)

	mu      sync.Mutex
	prompts []string
}

func (m *MockClient) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MockClient) Generate(ctx context.Context, prompt string, cfg GenerateConfig) (*Generation, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, cfg)
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyTransport(ctx, m.Name(), err)
	}
	return &Generation{Text: MockReply, Model: "mock"}, nil
}

// Prompts returns every prompt received, in call order.
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
