package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/chatcommerce/internal/chat"
	"github.com/kalambet/chatcommerce/internal/flow"
)

type chatRequest struct {
	Messages json.RawMessage `json:"messages"`
	UserID   string          `json:"user_id"`
	State    *flow.State     `json:"state"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !isArray(req.Messages) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must be an array")
			return
		}
		var in []chat.InMessage
		if err := json.Unmarshal(req.Messages, &in); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid messages: %v", err)
			return
		}
		msgs := chat.Normalize(in)
		if chat.LastUserText(msgs) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages must include a user message with text")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		emit := func(e chat.Event) {
			payload, err := json.Marshal(e)
			if err != nil {
				slog.Error("marshaling chat event", "type", e.Type, "error", err)
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}

		deps.Chat.Run(r.Context(), chat.Turn{
			Messages: msgs,
			UserID:   req.UserID,
			State:    req.State,
			Started:  started,
		}, emit)

		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
