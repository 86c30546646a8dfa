package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted completion client for tests and local
// development without a real backend.
type MockClient struct {
	mu      sync.Mutex
	replies []string
	next    int

	// Err, when set, is returned by every call.
	Err error
	// Fn, when set, takes precedence over scripted replies.
	Fn func(ctx context.Context, req Request) (string, error)

	calls []Request
}

// NewMockClient returns a client that replays replies in order,
// repeating the last one once exhausted.
func NewMockClient(replies ...string) *MockClient {
	return &MockClient{replies: replies}
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn := m.Fn
	if fn != nil {
		// Invoke outside the lock so a blocking Fn cannot deadlock
		// concurrent Complete calls.
		m.mu.Unlock()
		return fn(ctx, req)
	}
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	reply := m.replies[m.next]
	if m.next < len(m.replies)-1 {
		m.next++
	}
	return reply, nil
}

// Calls returns a copy of every request seen so far.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// CallCount returns how many completion requests were issued.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
