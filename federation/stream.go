package federation

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/matrixd/eventstore"
)

// streamUpgrader permits any origin: this bridge is an operator-facing
// tail, not a federation wire endpoint, so it carries no Origin
// restriction of its own.
var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamHandler bridges a room's kv change-subscription to a WebSocket
// connection, pushing one text frame per new event so an operator or
// internal consumer can tail a room live without polling PDUsAfter.
type StreamHandler struct {
	store  *eventstore.Store
	logger *zap.SugaredLogger
}

// NewStreamHandler constructs a live room-tail bridge over store.
func NewStreamHandler(store *eventstore.Store, log *zap.SugaredLogger) *StreamHandler {
	return &StreamHandler{store: store, logger: log}
}

// Routes registers the streaming endpoint.
func (h *StreamHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /_matrix/admin/stream/{roomId}", h.handleStream)
}

func (h *StreamHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warnw("websocket upgrade failed", "room_id", roomID, "error", err)
		}
		return
	}
	defer conn.Close()

	ctx := r.Context()
	changes := h.store.SubscribeRoom(ctx, roomID)

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"room_id":"`+roomID+`","event":"changed"}`)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
