package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/repos"
	"github.com/openedtech/tutorcore/internal/types"
)

// TaskHandler lets clients poll a task handle. The stored failure
// cause stays server-side; clients only see the status.
type TaskHandler struct {
	repo repos.TaskRunRepo
	log  *logger.Logger
}

func NewTaskHandler(repo repos.TaskRunRepo, log *logger.Logger) *TaskHandler {
	return &TaskHandler{repo: repo, log: log.With("handler", "TaskHandler")}
}

type taskView struct {
	ID         uuid.UUID      `json:"id"`
	Queue      string         `json:"queue"`
	TaskType   string         `json:"task_type"`
	Status     string         `json:"status"`
	Result     datatypes.JSON `json:"result,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	id, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_path", fmt.Errorf("task_id must be a uuid"))
		return
	}

	run, err := h.repo.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		h.log.Error("Could not load task", "task_id", id, "error", err)
		RespondError(c, http.StatusInternalServerError, "internal",
			fmt.Errorf("the task could not be loaded"))
		return
	}
	if run == nil {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("task %s not found", id))
		return
	}

	view := taskView{
		ID:         run.ID,
		Queue:      run.Queue,
		TaskType:   run.TaskType,
		Status:     run.Status,
		CreatedAt:  run.CreatedAt,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	if run.Status == types.TaskStatusSucceeded {
		view.Result = run.Result
	}
	RespondOK(c, view)
}
