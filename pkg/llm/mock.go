package llm

import (
	"context"
	"sync"
)

// MockClient is a scriptable GenerationClient for tests. Responses are
// consumed in order; when exhausted, the last response repeats.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int

	// Prompts records every prompt received, for assertions.
	Prompts []string
}

// NewMockClient creates a mock that replays the given responses.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// NewMockClientWithErrors creates a mock where each call i returns
// responses[i] or errs[i] (a non-nil error wins).
func NewMockClientWithErrors(responses []string, errs []error) *MockClient {
	return &MockClient{responses: responses, errs: errs}
}

// Complete returns the next scripted response or error.
func (m *MockClient) Complete(_ context.Context, _ string, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.calls
	m.calls++
	m.Prompts = append(m.Prompts, prompt)

	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

// Calls returns how many times Complete was invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Model returns a fixed test model name.
func (m *MockClient) Model() string { return "mock-model" }

// Endpoint returns a fixed test endpoint.
func (m *MockClient) Endpoint() string { return "mock://" }
