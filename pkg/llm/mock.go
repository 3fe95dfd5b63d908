package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MockInvoker is a configurable Invoker for tests.
// Set InvokeFunc to control behavior; by default it echoes the prompt.
type MockInvoker struct {
	// InvokeFunc is called when Invoke is invoked.
	InvokeFunc func(ctx context.Context, req *InvokeRequest) (*InvokeResult, error)

	calls atomic.Int64

	mu       sync.Mutex
	requests []InvokeRequest
}

var _ Invoker = (*MockInvoker)(nil)

// NewMockInvoker creates a mock that answers every prompt with output.
func NewMockInvoker(output string) *MockInvoker {
	return &MockInvoker{
		InvokeFunc: func(_ context.Context, req *InvokeRequest) (*InvokeResult, error) {
			return &InvokeResult{
				Output:         output,
				Elapsed:        5 * time.Millisecond,
				ConversationID: conversationID(req),
			}, nil
		},
	}
}

// Invoke implements Invoker.
func (m *MockInvoker) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.requests = append(m.requests, *req)
	m.mu.Unlock()

	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, req)
	}
	return &InvokeResult{
		Output:         req.Prompt,
		ConversationID: conversationID(req),
	}, nil
}

// Calls returns how many times Invoke ran.
func (m *MockInvoker) Calls() int {
	return int(m.calls.Load())
}

// Requests returns a copy of every request received, in arrival order.
func (m *MockInvoker) Requests() []InvokeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InvokeRequest(nil), m.requests...)
}
