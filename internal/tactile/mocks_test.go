package tactile

import (
	"context"
	"strings"
	"sync"
)

// MockBackend is a scripted SandboxBackend.
type MockBackend struct {
	mu sync.Mutex

	ProvisionErr error
	RunFunc      func(command string) (RunOutput, error)

	Commands    []string
	Provisioned int
	Closed      int
	Image       string
	Limits      Limits
}

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) Provision(_ context.Context, image string, limits Limits) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ProvisionErr != nil {
		return Handle{}, m.ProvisionErr
	}
	m.Provisioned++
	m.Image = image
	m.Limits = limits
	return Handle{ID: "mock-container-0001", Backend: "mock", Limits: limits}, nil
}

func (m *MockBackend) Run(_ context.Context, _ Handle, command string) (RunOutput, error) {
	m.mu.Lock()
	m.Commands = append(m.Commands, command)
	fn := m.RunFunc
	m.mu.Unlock()
	if fn == nil {
		return RunOutput{Succeeded: true}, nil
	}
	return fn(command)
}

func (m *MockBackend) Close(_ context.Context, _ Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed++
	return nil
}

// commandsWithPrefix returns recorded commands starting with prefix.
func (m *MockBackend) commandsWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.Commands {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}
