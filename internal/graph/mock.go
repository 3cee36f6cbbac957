package graph

import (
	"context"
	"sync"

	"github.com/wesm/recoverybot/internal/mailbox"
)

// MockReader is an in-memory mailbox.Reader for tests.
type MockReader struct {
	mu sync.Mutex

	// Messages returned by every successful call.
	Messages []mailbox.Message

	// Errors are consumed one per call; a nil entry lets that call succeed.
	// Once exhausted, calls succeed.
	Errors []error

	// Call tracking for assertions
	Calls      int
	Tokens     []string
	LastCount  int
	LastFields []string
}

// NewMockReader creates a mock that returns msgs.
func NewMockReader(msgs ...mailbox.Message) *MockReader {
	return &MockReader{Messages: msgs}
}

// ListRecentMessages records the call and returns the next scripted result.
func (m *MockReader) ListRecentMessages(ctx context.Context, accessToken string, count int, fields []string) ([]mailbox.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	m.Tokens = append(m.Tokens, accessToken)
	m.LastCount = count
	m.LastFields = append([]string(nil), fields...)

	if len(m.Errors) > 0 {
		err := m.Errors[0]
		m.Errors = m.Errors[1:]
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := m.Messages
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return append([]mailbox.Message(nil), out...), nil
}

// CallCount returns the number of calls so far.
func (m *MockReader) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

var _ mailbox.Reader = (*MockReader)(nil)
