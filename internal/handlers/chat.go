package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/tasks"
	"github.com/openedtech/tutorcore/internal/types"
)

// ChatHandler accepts adaptive-chat requests and queues them for the
// chat workers. The response is a task handle; the answer itself
// arrives on the participant's notification stream.
type ChatHandler struct {
	dispatcher *tasks.Dispatcher
	log        *logger.Logger
}

func NewChatHandler(dispatcher *tasks.Dispatcher, log *logger.Logger) *ChatHandler {
	return &ChatHandler{dispatcher: dispatcher, log: log.With("handler", "ChatHandler")}
}

func (h *ChatHandler) AdaptiveChat(c *gin.Context) {
	var payload tasks.ChatTaskPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if payload.ParticipantID == "" || payload.UserMessage == "" {
		RespondError(c, http.StatusBadRequest, "invalid_body",
			fmt.Errorf("participant_id and user_message are required"))
		return
	}

	run, err := h.dispatcher.Enqueue(c.Request.Context(), types.QueueChat, tasks.TaskChatRequest, payload.ParticipantID, payload)
	if err != nil {
		respondEnqueueError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": run.ID, "status": run.Status})
}

// respondEnqueueError maps dispatcher failures: a full queue is the
// caller's problem, everything else is ours.
func respondEnqueueError(c *gin.Context, log *logger.Logger, err error) {
	if errors.Is(err, tasks.ErrQueueFull) {
		RespondError(c, http.StatusTooManyRequests, "busy",
			fmt.Errorf("the system is busy, please retry shortly"))
		return
	}
	log.Error("Could not enqueue task", "error", err)
	RespondError(c, http.StatusInternalServerError, "internal",
		fmt.Errorf("the request could not be queued"))
}
