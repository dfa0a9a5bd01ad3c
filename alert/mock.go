package alert

import (
	"context"
	"log/slog"
	"sync"
)

// MockProvider logs messages instead of sending them, for local development.
type MockProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
	err  error
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send records and logs the message.
func (m *MockProvider) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	m.logger.Info("MOCK REMINDER", "title", msg.Title, "description", msg.Description, "url", msg.URL)
	return nil
}

// FailWith makes subsequent sends return err; nil restores success.
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Messages returns a copy of everything sent so far.
func (m *MockProvider) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}
