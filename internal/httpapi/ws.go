package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxrelay/voxrelay/internal/pipeline"
)

const (
	wsReadLimit    = 1 << 20
	wsIdleDeadline = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleChatWS serves whole-turn text chat over one websocket connection.
// Each inbound JSON message is a complete exchange request and produces
// exactly one JSON reply; there is no token streaming. Turns run strictly
// in arrival order, so a single connection behaves like a serialized client
// of the same session.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleDeadline))
		return nil
	})

	for {
		var req llmRequest
		if err := conn.ReadJSON(&req); err != nil {
			// A frame that is not a request document is answered and the
			// connection kept; anything else is fatal for the socket.
			if !isDecodeError(err) {
				return
			}
			if writeWS(conn, errorResponse{Error: "invalid message: " + err.Error(), Code: "invalid_request"}) != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsIdleDeadline))
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleDeadline))

		res, err := s.pipe.Chat(r.Context(), pipeline.ChatRequest{
			Session: req.Session,
			Model:   req.Model,
			System:  req.System,
			Reset:   req.Reset,
			Text:    req.Text,
		})
		if err != nil {
			s.countRequest("/v1/chat/ws", "chat", "error")
			_, code := classifyError(err)
			if writeWS(conn, errorResponse{Error: err.Error(), Code: code}) != nil {
				return
			}
			continue
		}
		s.countRequest("/v1/chat/ws", "chat", "ok")
		if writeWS(conn, toChatResponse(res)) != nil {
			return
		}
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func writeWS(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}
