package app

import (
	"github.com/gin-gonic/gin"

	"github.com/openedtech/tutorcore/internal/handlers"
	"github.com/openedtech/tutorcore/internal/server"
)

func (a *App) BuildRouter() *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		ChatHandler:       handlers.NewChatHandler(a.Dispatcher, a.Log),
		BehaviorHandler:   handlers.NewBehaviorHandler(a.Dispatcher, a.Log),
		SubmissionHandler: handlers.NewSubmissionHandler(a.Dispatcher, a.Log),
		StateHandler:      handlers.NewStateHandler(a.UserSvc, a.Log),
		TaskHandler:       handlers.NewTaskHandler(a.TaskRuns, a.Log),
		StreamHandler:     handlers.NewStreamHandler(a.Bus, a.Log),
		Log:               a.Log,
	})
}
