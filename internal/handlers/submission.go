package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/tasks"
	"github.com/openedtech/tutorcore/internal/types"
)

// SubmissionHandler accepts learner code for sandbox evaluation. The
// verdict arrives on the notification stream once the submit worker
// finishes.
type SubmissionHandler struct {
	dispatcher *tasks.Dispatcher
	log        *logger.Logger
}

func NewSubmissionHandler(dispatcher *tasks.Dispatcher, log *logger.Logger) *SubmissionHandler {
	return &SubmissionHandler{dispatcher: dispatcher, log: log.With("handler", "SubmissionHandler")}
}

func (h *SubmissionHandler) Submit(c *gin.Context) {
	var payload tasks.SubmissionTaskPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if payload.ParticipantID == "" || payload.TopicID == "" {
		RespondError(c, http.StatusBadRequest, "invalid_body",
			fmt.Errorf("participant_id and topic_id are required"))
		return
	}

	run, err := h.dispatcher.Enqueue(c.Request.Context(), types.QueueSubmit, tasks.TaskProcessSubmission, payload.ParticipantID, payload)
	if err != nil {
		respondEnqueueError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": run.ID, "status": run.Status})
}
