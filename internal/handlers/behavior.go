package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/tasks"
	"github.com/openedtech/tutorcore/internal/types"
)

// BehaviorHandler ingests raw behavior events. Events are queued and
// interpreted asynchronously so the client never waits on the model.
type BehaviorHandler struct {
	dispatcher *tasks.Dispatcher
	log        *logger.Logger
}

func NewBehaviorHandler(dispatcher *tasks.Dispatcher, log *logger.Logger) *BehaviorHandler {
	return &BehaviorHandler{dispatcher: dispatcher, log: log.With("handler", "BehaviorHandler")}
}

func (h *BehaviorHandler) IngestEvent(c *gin.Context) {
	var payload tasks.BehaviorTaskPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if payload.ParticipantID == "" || payload.EventType == "" {
		RespondError(c, http.StatusBadRequest, "invalid_body",
			fmt.Errorf("participant_id and event_type are required"))
		return
	}
	// Snapshots are produced internally, never ingested.
	if payload.EventType == types.EventStateSnapshot {
		RespondError(c, http.StatusBadRequest, "invalid_event_type",
			fmt.Errorf("event type %q cannot be submitted", payload.EventType))
		return
	}

	run, err := h.dispatcher.Enqueue(c.Request.Context(), types.QueueBehavior, tasks.TaskInterpretBehavior, payload.ParticipantID, payload)
	if err != nil {
		respondEnqueueError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": run.ID, "status": run.Status})
}
