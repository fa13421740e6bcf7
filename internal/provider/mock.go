package provider

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/google/uuid"
)

// MockSender simulates the provider for local runs. FailureRate is the
// probability in [0, 1] that a send fails.
type MockSender struct {
	FailureRate float64
}

func (m *MockSender) Send(ctx context.Context, to, body string) (string, any, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if m.FailureRate > 0 && rand.Float64() < m.FailureRate {
		return "", nil, errors.New("mock sending failed")
	}
	id := "mock." + uuid.NewString()
	return id, map[string]any{
		"messages": []map[string]any{{"id": id}},
		"to":       to,
	}, nil
}

var _ Sender = (*MockSender)(nil)
