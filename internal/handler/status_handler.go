// internal/handler/status_handler.go
package handler

import (
	"bytes"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outbound-dispatcher/internal/errors"
	"github.com/unclebandit/outbound-dispatcher/internal/logger"
	"github.com/unclebandit/outbound-dispatcher/internal/model"
	"github.com/unclebandit/outbound-dispatcher/internal/service"
)

// StatusHandler receives provider delivery-status callbacks
type StatusHandler struct {
	Applier service.StatusApplier
	Logger  *zap.Logger
}

func NewStatusHandler(applier service.StatusApplier, log *zap.Logger) *StatusHandler {
	return &StatusHandler{Applier: applier, Logger: logger.OrNop(log)}
}

type statusResult struct {
	ProviderMessageID string         `json:"provider_message_id"`
	Applied           bool           `json:"applied"`
	Message           *model.Message `json:"message,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// ApplyStatus accepts one status report or a JSON array of them. A single
// report answers with its own status code; a batch always answers 200 with
// per-item results.
func (h *StatusHandler) ApplyStatus(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&raw); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		var events []model.ProviderStatusEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		results := make([]statusResult, 0, len(events))
		for _, ev := range events {
			res, _ := h.apply(r, ev)
			results = append(results, res)
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": results})
		return
	}

	var ev model.ProviderStatusEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.apply(r, ev)
	writeJSON(w, appErrors.HTTPStatus(err), res)
}

func (h *StatusHandler) apply(r *http.Request, ev model.ProviderStatusEvent) (statusResult, error) {
	res := statusResult{ProviderMessageID: ev.ProviderMessageID}
	msg, applied, err := h.Applier.ApplyProviderStatus(r.Context(), ev.ProviderMessageID, ev.Status, ev.ErrorReason)
	if err != nil {
		logger.OrNop(h.Logger).Warn("provider status rejected",
			zap.String("provider_message_id", ev.ProviderMessageID),
			zap.String("status", ev.Status),
			zap.Error(err),
		)
		res.Error = err.Error()
		return res, err
	}
	res.Applied = applied
	res.Message = msg
	return res, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
