// internal/controller/dispatch_controller.go
package controller

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outbound-dispatcher/internal/errors"
	"github.com/unclebandit/outbound-dispatcher/internal/logger"
	"github.com/unclebandit/outbound-dispatcher/internal/service"
)

const (
	ActorHeader  = "X-Actor-ID"
	maxBodyBytes = 64 << 10
)

type DispatchController struct {
	DispatchService *service.DispatchService
	Logger          *zap.Logger
}

// Routes mounts the message endpoints on r.
func (c *DispatchController) Routes(r chi.Router) {
	r.Post("/workspaces/{workspaceID}/conversations/{conversationID}/messages", c.SendMessage)
	r.Get("/messages/{id}", c.GetMessage)
	r.Get("/messages/{id}/events", c.ListEvents)
}

func (c *DispatchController) SendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body    string `json:"body"`
		ActorID string `json:"actor_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body", nil)
		return
	}

	actorID := r.Header.Get(ActorHeader)
	if actorID == "" {
		actorID = body.ActorID
	}

	result, err := c.DispatchService.Dispatch(r.Context(), service.DispatchRequest{
		WorkspaceID:    chi.URLParam(r, "workspaceID"),
		ConversationID: chi.URLParam(r, "conversationID"),
		ActorID:        actorID,
		Body:           body.Body,
	})
	if err != nil {
		code := appErrors.HTTPStatus(err)
		if code >= http.StatusInternalServerError {
			logger.OrNop(c.Logger).Error("dispatch failed", zap.Error(err))
		}
		writeError(w, code, err.Error(), result)
		return
	}

	code := http.StatusCreated
	switch result.Outcome {
	case service.OutcomeDryRun:
		code = http.StatusAccepted
	case service.OutcomeDuplicate:
		code = http.StatusOK
	}
	writeJSON(w, code, result)
}

func (c *DispatchController) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := c.DispatchService.GetMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, appErrors.HTTPStatus(err), err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (c *DispatchController) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := c.DispatchService.ListEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, appErrors.HTTPStatus(err), err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": events})
}

func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError keeps the dispatch result in the body when a message was persisted.
func writeError(w http.ResponseWriter, code int, msg string, result *service.DispatchResult) {
	body := map[string]any{"error": msg}
	if result != nil {
		body["outcome"] = result.Outcome
		body["message"] = result.Message
	}
	writeJSON(w, code, body)
}
