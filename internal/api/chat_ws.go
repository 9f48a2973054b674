package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/miguel-bm/slidechat/internal/uistream"
)

const (
	chatWSWriteWait   = 10 * time.Second
	chatWSRequestWait = 30 * time.Second
)

// chatWSRequest is the single client frame that starts a streamed answer.
type chatWSRequest struct {
	Type     string               `json:"type"`
	Messages []uistream.UIMessage `json:"messages"`
}

func (s *Server) wsUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin.
			return origin == "" || isAllowedOrigin(s.allowedOrigins, origin)
		},
	}
}

// wsSession authenticates a WebSocket handshake. Browsers cannot set headers
// on the handshake, so a ?token= query parameter is accepted too.
func (s *Server) wsSession(r *http.Request) *Session {
	if token := r.URL.Query().Get("token"); token != "" {
		return s.auth.ValidateToken(token)
	}
	return s.auth.SessionFromHeaders(r.Header)
}

// handleChatWS streams one answer over a WebSocket: the client sends
// {"type":"chat","messages":[...]}, the server writes every chunk as a JSON
// text frame and closes the socket after the terminal chunk.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if s.wsSession(r) == nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	upgrader := s.wsUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("chat websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxChatBodyBytes)

	var req chatWSRequest
	_ = conn.SetReadDeadline(time.Now().Add(chatWSRequestWait))
	if err := conn.ReadJSON(&req); err != nil {
		slog.Debug("chat websocket read failed", "error", err)
		closeWS(conn, websocket.CloseUnsupportedData, "invalid chat request")
		return
	}
	if req.Type != "chat" || len(req.Messages) == 0 {
		closeWS(conn, websocket.CloseUnsupportedData, "expected a chat message with messages")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := s.chatContext(r.Context())
	defer cancel()

	resp := s.chat.Stream(ctx, req.Messages, nil)
	defer resp.Close()

	// The client sends nothing after the request; a read error means it left.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				resp.Close()
				return
			}
		}
	}()

	for chunk := range resp.Chunks() {
		_ = conn.SetWriteDeadline(time.Now().Add(chatWSWriteWait))
		if err := conn.WriteJSON(chunk); err != nil {
			slog.Debug("chat websocket client gone", "message_id", resp.MessageID, "error", err)
			return
		}
	}
	closeWS(conn, websocket.CloseNormalClosure, "")
}

func closeWS(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(chatWSWriteWait))
}
