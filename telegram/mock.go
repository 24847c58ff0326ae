package telegram

import (
	"context"
	"log/slog"
)

// MockProvider logs messages instead of sending them. Used for local
// development when no bot token is configured.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send logs the message instead of delivering it.
func (m *MockProvider) Send(_ context.Context, token, text string, priority int) error {
	m.logger.Info("MOCK MESSAGE",
		"to", token,
		"priority", priority,
		"length", len(text),
		"text", text)
	return nil
}
