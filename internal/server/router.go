package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/openedtech/tutorcore/internal/handlers"
	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/utils"
)

type RouterConfig struct {
	ChatHandler       *handlers.ChatHandler
	BehaviorHandler   *handlers.BehaviorHandler
	SubmissionHandler *handlers.SubmissionHandler
	StateHandler      *handlers.StateHandler
	TaskHandler       *handlers.TaskHandler
	StreamHandler     *handlers.StreamHandler
	Log               *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173", cfg.Log)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(origins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/chat/adaptive", cfg.ChatHandler.AdaptiveChat)
		api.POST("/behavior/event", cfg.BehaviorHandler.IngestEvent)
		api.POST("/submission", cfg.SubmissionHandler.Submit)
		api.GET("/state/:participant_id", cfg.StateHandler.GetState)
		api.GET("/tasks/:task_id", cfg.TaskHandler.GetTask)
		api.GET("/stream/:participant_id", cfg.StreamHandler.Stream)
	}

	return router
}
