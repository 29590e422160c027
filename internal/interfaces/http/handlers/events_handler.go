package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cnrmurphy/sentinel/internal/domain/entity"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/broadcast"
)

// keepAliveInterval is how often an idle subscriber gets an SSE comment.
const keepAliveInterval = 15 * time.Second

// EventsHandler serves the long-lived event stream to external watchers.
type EventsHandler struct {
	broadcaster *broadcast.Broadcaster
	logger      *zap.Logger
}

// NewEventsHandler creates the subscriber endpoint handler.
func NewEventsHandler(broadcaster *broadcast.Broadcaster, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		broadcaster: broadcaster,
		logger:      logger.With(zap.String("handler", "events")),
	}
}

// envelope is one subscriber-facing message.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// resyncPayload signals that events were dropped for a lagging
// subscriber; it can re-fetch from the store for gap-free history.
type resyncPayload struct {
	EventsDropped uint64 `json:"events_dropped"`
	LatestSeq     int64  `json:"latest_seq"`
}

// Stream handles GET /api/events. The optional agent query narrows
// delivery to events whose agent field matches exactly; resync envelopes
// are always delivered.
func (h *EventsHandler) Stream(c *gin.Context) {
	agentFilter := c.Query("agent")

	sub := h.broadcaster.Subscribe()
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				// Broadcaster shut down; close gracefully.
				return
			}
			if dropped := sub.TakeDropped(); dropped > 0 {
				if !h.send(c, flusher, envelope{
					Type: "resync_required",
					Payload: resyncPayload{
						EventsDropped: dropped,
						LatestSeq:     h.broadcaster.LatestSeq(),
					},
				}) {
					return
				}
			}
			if agentFilter != "" && !agentMatches(event, agentFilter) {
				continue
			}
			if !h.send(c, flusher, envelope{Type: "observability_event", Payload: event}) {
				return
			}

		case <-keepAlive.C:
			if _, err := fmt.Fprint(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}

		case <-c.Request.Context().Done():
			return
		}
	}
}

// send writes one envelope as an SSE message; false means the subscriber
// is gone.
func (h *EventsHandler) send(c *gin.Context, flusher http.Flusher, msg envelope) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode envelope", zap.Error(err))
		return true
	}
	if _, err := fmt.Fprintf(c.Writer, "event: message\ndata: %s\n\n", data); err != nil {
		return false
	}
	if flusher != nil {
		flusher.Flush()
	}
	return true
}

func agentMatches(event *entity.ObservabilityEvent, filter string) bool {
	return event.Agent != nil && *event.Agent == filter
}
