package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/userstate"
)

// StateHandler exposes the current learner profile.
type StateHandler struct {
	userSvc *userstate.Service
	log     *logger.Logger
}

func NewStateHandler(userSvc *userstate.Service, log *logger.Logger) *StateHandler {
	return &StateHandler{userSvc: userSvc, log: log.With("handler", "StateHandler")}
}

func (h *StateHandler) GetState(c *gin.Context) {
	participantID := c.Param("participant_id")
	if participantID == "" {
		RespondError(c, http.StatusBadRequest, "invalid_path",
			fmt.Errorf("participant_id is required"))
		return
	}

	p, created, err := h.userSvc.GetOrCreateProfile(c.Request.Context(), participantID)
	if err != nil {
		h.log.Error("Could not load profile", "participant_id", participantID, "error", err)
		RespondError(c, http.StatusInternalServerError, "internal",
			fmt.Errorf("the profile could not be loaded"))
		return
	}
	RespondOK(c, gin.H{"created": created, "profile": p.ToMap()})
}
