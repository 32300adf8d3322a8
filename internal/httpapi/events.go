package httpapi

import (
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleEvents streams status changes over a WebSocket. The current status is
// sent immediately so a client never has to poll to establish a baseline.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := r.Context()
	changes, cancel := s.service.Subscribe()
	defer cancel()

	if err := wsjson.Write(ctx, conn, s.currentStatus()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case _, ok := <-changes:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			// Resend the full snapshot rather than the bare status so
			// clients also see pendingCount and lastSync move.
			if err := wsjson.Write(ctx, conn, s.currentStatus()); err != nil {
				return
			}
		}
	}
}
