package repair

import (
	"context"

	"paper2nb/internal/perception"
)

// MockClient returns Response (or Err) and records prompts.
type MockClient struct {
	Response string
	Err      error
	Prompts  []string
}

func (m *MockClient) Complete(ctx context.Context, prompt string) (perception.Completion, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return perception.Completion{}, m.Err
	}
	return perception.NewCompletion("mock", "mock", m.Response), nil
}
