package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudAPISenderSuccess(t *testing.T) {
	var got textMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"6281234567890","wa_id":"6281234567890"}],"messages":[{"id":"wamid.123"}]}`))
	}))
	defer srv.Close()

	s := NewCloudAPISender(srv.URL+"/v19.0/", "12345", "secret")
	id, raw, err := s.Send(context.Background(), "+6281234567890", "Hello")
	require.NoError(t, err)

	assert.Equal(t, "wamid.123", id)
	assert.NotNil(t, raw)
	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "6281234567890", got.To)
	assert.Equal(t, "text", got.Type)
	assert.Equal(t, "Hello", got.Text.Body)
}

func TestCloudAPISenderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Recipient phone number not in allowed list","type":"OAuthException","code":131030}}`))
	}))
	defer srv.Close()

	s := NewCloudAPISender(srv.URL, "12345", "secret")
	_, raw, err := s.Send(context.Background(), "+6281234567890", "Hello")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 131030, apiErr.Code)
	assert.Contains(t, err.Error(), "not in allowed list")
	assert.NotNil(t, raw)
}

func TestCloudAPISenderMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	_, _, err := NewCloudAPISender(srv.URL, "1", "t").Send(context.Background(), "1", "x")
	assert.Error(t, err)
}

func TestCloudAPISenderHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := NewCloudAPISender(srv.URL, "1", "t").Send(ctx, "1", "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreakerSenderOpensAfterFailures(t *testing.T) {
	calls := 0
	failing := SenderFunc(func(ctx context.Context, to, body string) (string, any, error) {
		calls++
		return "", nil, errors.New("network timeout")
	})

	b := NewBreakerSender(failing, BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Minute, HalfOpenRequests: 1}, nil)
	for i := 0; i < 3; i++ {
		_, _, err := b.Send(context.Background(), "1", "x")
		assert.EqualError(t, err, "network timeout")
	}
	assert.Equal(t, "open", b.State())

	_, _, err := b.Send(context.Background(), "1", "x")
	assert.Error(t, err)
	assert.Equal(t, 3, calls, "open breaker must not reach the provider")
}

func TestBreakerSenderPassesThrough(t *testing.T) {
	ok := SenderFunc(func(ctx context.Context, to, body string) (string, any, error) {
		return "wamid.1", map[string]any{"ok": true}, nil
	})
	b := NewBreakerSender(ok, DefaultBreakerConfig(), nil)

	id, raw, err := b.Send(context.Background(), "1", "x")
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", id)
	assert.Equal(t, map[string]any{"ok": true}, raw)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	cancelled := SenderFunc(func(ctx context.Context, to, body string) (string, any, error) {
		return "", nil, context.Canceled
	})
	b := NewBreakerSender(cancelled, BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Minute, HalfOpenRequests: 1}, nil)

	for i := 0; i < 3; i++ {
		_, _, err := b.Send(context.Background(), "1", "x")
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", b.State())
}

func TestMockSender(t *testing.T) {
	m := &MockSender{}
	id, _, err := m.Send(context.Background(), "+1", "hi")
	require.NoError(t, err)
	assert.Contains(t, id, "mock.")

	m.FailureRate = 1
	_, _, err = m.Send(context.Background(), "+1", "hi")
	assert.Error(t, err)
}
