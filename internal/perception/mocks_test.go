package perception

import (
	"context"
	"sync"
)

// MockTraceStore records traces in memory.
type MockTraceStore struct {
	mu     sync.Mutex
	Traces []*Trace
	Err    error
}

func (m *MockTraceStore) StoreLLMTrace(ctx context.Context, trace *Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Traces = append(m.Traces, trace)
	return nil
}
