package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/invopop/jsonschema"

	"github.com/miguel-bm/slidechat/internal/uistream"
)

// handleChat answers a conversation as a UI message stream over SSE. Once
// the stream has started the status is 200; agent failures arrive as an
// error chunk.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req uistream.ChatRequest
	if err := decodeJSONLimit(r, &req, maxChatBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}

	ctx, cancel := s.chatContext(r.Context())
	defer cancel()

	resp := s.chat.Stream(ctx, req.Messages, nil)
	slog.Debug("chat stream started", "message_id", resp.MessageID, "messages", len(req.Messages))
	if err := uistream.WriteSSE(w, resp); err != nil {
		slog.Debug("chat stream client gone", "message_id", resp.MessageID, "error", err)
	}
}

func (s *Server) chatContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.requestTimeout)
}

func (s *Server) handleChatSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]*jsonschema.Schema{
		"request": uistream.RequestSchema(),
		"chunk":   uistream.ChunkSchema(),
	})
}
