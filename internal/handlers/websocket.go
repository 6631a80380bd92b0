package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ternarybob/eventjobs/internal/streaming"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced by the server middleware
	},
}

// StreamJobWebSocketHandler pushes job progress over a WebSocket.
// Client frames are read and discarded; a read error ends the stream.
// GET /api/jobs/{id}/ws
func (h *JobHandler) StreamJobWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	jobID := jobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug().Err(err).Str("job_id", jobID).Msg("WebSocket read error")
				}
				return
			}
		}
	}()

	sink := streaming.NewWebSocketSink(conn, h.writeTimeout)
	if err := h.streamer.Stream(ctx, jobID, sink); err != nil {
		h.logger.Debug().Err(err).Str("job_id", jobID).Msg("WebSocket job stream ended with error")
		return
	}
	if ctx.Err() == nil {
		_ = sink.Close()
	}
}
