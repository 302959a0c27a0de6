package notebook

import (
	"context"

	"paper2nb/internal/perception"
)

// MockClient returns Responses in order, repeating the last one.
type MockClient struct {
	Responses []string
	Errs      []error
	Prompts   []string
}

func (m *MockClient) Complete(ctx context.Context, prompt string) (perception.Completion, error) {
	i := len(m.Prompts)
	m.Prompts = append(m.Prompts, prompt)
	if i < len(m.Errs) && m.Errs[i] != nil {
		return perception.Completion{}, m.Errs[i]
	}
	if len(m.Responses) == 0 {
		return perception.NewCompletion("mock", "mock", ""), nil
	}
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	return perception.NewCompletion("mock", "mock", m.Responses[i]), nil
}
