package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/notify"
)

// StreamHandler serves the per-participant notification stream over
// SSE. Every envelope published to the participant's topic is
// forwarded as one event.
type StreamHandler struct {
	bus notify.Bus
	log *logger.Logger
}

func NewStreamHandler(bus notify.Bus, log *logger.Logger) *StreamHandler {
	return &StreamHandler{bus: bus, log: log.With("handler", "StreamHandler")}
}

func (h *StreamHandler) Stream(c *gin.Context) {
	participantID := c.Param("participant_id")
	if participantID == "" {
		RespondError(c, http.StatusBadRequest, "invalid_path",
			fmt.Errorf("participant_id is required"))
		return
	}

	ch, err := h.bus.Subscribe(c.Request.Context(), participantID)
	if err != nil {
		h.log.Error("Could not subscribe to notifications", "participant_id", participantID, "error", err)
		RespondError(c, http.StatusInternalServerError, "internal",
			fmt.Errorf("the stream could not be opened"))
		return
	}
	h.log.Info("Notification stream open", "participant_id", participantID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(_ io.Writer) bool {
		select {
		case env, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("message", env)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	h.log.Info("Notification stream closed", "participant_id", participantID)
}
