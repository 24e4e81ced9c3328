package engine

import (
	"context"
	"sync"
)

// MockDelegate is a test double for the delegate. Respond is invoked per
// prompt; when nil, every call fails with Err.
type MockDelegate struct {
	Respond func(prompt string) (string, error)
	Err     error

	mu      sync.Mutex
	prompts []string
}

// Complete records the prompt and returns the configured reply.
func (m *MockDelegate) Complete(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.Respond == nil {
		return "", m.Err
	}
	return m.Respond(prompt)
}

// Calls returns how many prompts were dispatched.
func (m *MockDelegate) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of the recorded prompts.
func (m *MockDelegate) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
