package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outbound-dispatcher/internal/errors"
	"github.com/unclebandit/outbound-dispatcher/internal/handler"
	"github.com/unclebandit/outbound-dispatcher/internal/model"
)

// fakeApplier advances a single message held in memory.
type fakeApplier struct {
	msg model.Message
}

func (f *fakeApplier) ApplyProviderStatus(_ context.Context, id, status, _ string) (*model.Message, bool, error) {
	if id != *f.msg.ProviderMessageID {
		return nil, false, appErrors.NewMessageNotFound(id)
	}
	to, ok := model.ParseMessageStatus(status)
	if !ok {
		return nil, false, appErrors.NewUnknownProviderStatus(status)
	}
	if to.Rank() <= f.msg.Status.Rank() {
		out := f.msg
		return &out, false, nil
	}
	f.msg.Status = to
	out := f.msg
	return &out, true, nil
}

func newApplier() *fakeApplier {
	pid := "wamid.1"
	return &fakeApplier{msg: model.Message{ID: "m1", Status: model.StatusSent, ProviderMessageID: &pid}}
}

func call(t *testing.T, h *handler.StatusHandler, body string) (*httptest.ResponseRecorder, any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ApplyStatus(w, httptest.NewRequest(http.MethodPost, "/provider/status", bytes.NewBufferString(body)))
	var out any
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestApplyStatusSingle(t *testing.T) {
	h := handler.NewStatusHandler(newApplier(), nil)

	w, out := call(t, h, `{"provider_message_id":"wamid.1","status":"delivered"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := out.(map[string]any)
	assert.Equal(t, true, res["applied"])
	assert.Equal(t, "delivered", res["message"].(map[string]any)["status"])

	w, out = call(t, h, `{"provider_message_id":"wamid.1","status":"sent"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, out.(map[string]any)["applied"])
}

func TestApplyStatusRejections(t *testing.T) {
	h := handler.NewStatusHandler(newApplier(), nil)

	w, _ := call(t, h, `{"provider_message_id":"wamid.404","status":"read"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out := call(t, h, `{"provider_message_id":"wamid.1","status":"bounced"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.NotEmpty(t, out.(map[string]any)["error"])

	w, _ = call(t, h, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplyStatusBatch(t *testing.T) {
	h := handler.NewStatusHandler(newApplier(), nil)

	w, out := call(t, h, `[
		{"provider_message_id":"wamid.1","status":"delivered"},
		{"provider_message_id":"wamid.1","status":"read"},
		{"provider_message_id":"wamid.x","status":"read"}
	]`)
	require.Equal(t, http.StatusOK, w.Code)

	results := out.(map[string]any)["data"].([]any)
	require.Len(t, results, 3)
	assert.Equal(t, true, results[0].(map[string]any)["applied"])
	assert.Equal(t, "read", results[1].(map[string]any)["message"].(map[string]any)["status"])
	assert.NotEmpty(t, results[2].(map[string]any)["error"])
}
