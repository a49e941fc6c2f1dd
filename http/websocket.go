package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsMaxMessage   = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsReply struct {
	Status int `json:"status"`
	Body   any `json:"body"`
}

// handlePredictWS answers each text message, a predict JSON body, with a
// reply holding the HTTP status and response body the POST endpoint would give.
func (h *Handler) handlePredictWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxMessage)
	ctx := r.Context()
	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		status, body := h.predictJSON(ctx, data)
		reply, err := json.Marshal(wsReply{Status: status, Body: body})
		if err != nil {
			h.logger.Error("encode websocket reply", zap.Error(err))
			return
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			h.logger.Warn("websocket write error", zap.Error(err))
			return
		}
	}
}
