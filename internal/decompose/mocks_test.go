package decompose

import (
	"context"
	"strings"
	"sync"

	"paper2nb/internal/perception"
)

// MockClient answers prompts from a script. ResponseFunc wins when set;
// otherwise Responses are returned in order and the last one repeats.
type MockClient struct {
	mu           sync.Mutex
	Responses    []string
	ResponseFunc func(prompt string) (string, error)
	Prompts      []string
}

func (m *MockClient) Complete(ctx context.Context, prompt string) (perception.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)

	if m.ResponseFunc != nil {
		text, err := m.ResponseFunc(prompt)
		if err != nil {
			return perception.Completion{}, err
		}
		return perception.NewCompletion("mock", "mock", text), nil
	}
	if len(m.Responses) == 0 {
		return perception.NewCompletion("mock", "mock", ""), nil
	}
	i := len(m.Prompts) - 1
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	return perception.NewCompletion("mock", "mock", m.Responses[i]), nil
}

func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

// chunkTextOf returns the paper text embedded in a prompt.
func chunkTextOf(prompt string) string {
	const marker = "Paper text:\n\n"
	if i := strings.LastIndex(prompt, marker); i >= 0 {
		return prompt[i+len(marker):]
	}
	return ""
}
