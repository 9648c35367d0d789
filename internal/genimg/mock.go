package genimg

import (
	"context"
	"sync"
)

// EditCall records the arguments of one Edit invocation.
type EditCall struct {
	Data        []byte
	MimeType    string
	Instruction string
}

// MockService is a Service implementation for tests. Each call returns
// the configured Result/Err, or the next value from the Queue if one is
// set. Calls are recorded for assertions.
type MockService struct {
	mu sync.Mutex

	// Result and Err are returned when Queue is empty.
	Result Result
	Err    error

	// Queue, when non-empty, supplies one response per call in order.
	Queue []struct {
		Result Result
		Err    error
	}

	// Block, when non-nil, is received from before responding. This lets
	// tests hold an edit in flight while exercising concurrent requests.
	Block chan struct{}

	Calls []EditCall
}

// NewMockService creates a mock that returns an image result by default.
func NewMockService() *MockService {
	return &MockService{
		Result: Result{
			Kind:          KindImage,
			ImageData:     []byte("edited-bytes"),
			ImageMimeType: "image/png",
		},
	}
}

// Edit implements Service.
func (m *MockService) Edit(ctx context.Context, data []byte, mimeType, instruction string) (Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, EditCall{Data: data, MimeType: mimeType, Instruction: instruction})
	result, err := m.Result, m.Err
	if len(m.Queue) > 0 {
		result, err = m.Queue[0].Result, m.Queue[0].Err
		m.Queue = m.Queue[1:]
	}
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	return result, err
}

// CallCount returns the number of Edit calls made so far.
func (m *MockService) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
