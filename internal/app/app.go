package app

import (
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/openedtech/tutorcore/internal/db"
	"github.com/openedtech/tutorcore/internal/interpreter"
	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/notify"
	"github.com/openedtech/tutorcore/internal/repos"
	"github.com/openedtech/tutorcore/internal/statestore"
	"github.com/openedtech/tutorcore/internal/tasks"
	"github.com/openedtech/tutorcore/internal/userstate"
)

// App is the shared core wired identically by the API server and the
// worker binaries: storage, repos, state store, notification bus, and
// the profile lifecycle service.
type App struct {
	Log *logger.Logger
	Cfg Config
	DB  *gorm.DB

	Store statestore.Store
	Bus   notify.Bus

	EventLog    repos.EventLogRepo
	Chats       repos.ChatHistoryRepo
	Progress    repos.ProgressRepo
	Submissions repos.SubmissionRepo
	TaskRuns    repos.TaskRunRepo

	Dispatcher *tasks.Dispatcher
	Writer     *tasks.QueueWriter
	Interp     *interpreter.Interpreter
	UserSvc    *userstate.Service
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	store := newStateStore(cfg, log)
	bus := newNotifyBus(cfg, log)

	a := &App{
		Log:   log,
		Cfg:   cfg,
		DB:    theDB,
		Store: store,
		Bus:   bus,

		EventLog:    repos.NewEventLogRepo(theDB, log),
		Chats:       repos.NewChatHistoryRepo(theDB, log),
		Progress:    repos.NewProgressRepo(theDB, log),
		Submissions: repos.NewSubmissionRepo(theDB, log),
		TaskRuns:    repos.NewTaskRunRepo(theDB, log),
	}

	a.Dispatcher = tasks.NewDispatcher(a.TaskRuns, tasks.Config{QueueMaxDepth: cfg.QueueMaxDepth}, log)
	a.Writer = tasks.NewQueueWriter(a.Dispatcher)

	interpCfg := interpreter.DefaultConfig()
	interpCfg.SentimentWeight = cfg.SentimentWeight
	a.Interp = interpreter.New(interpCfg, log)

	a.UserSvc = userstate.NewService(a.Store, a.EventLog, a.Interp, a.Writer, userstate.Config{
		SnapshotEventInterval: cfg.SnapshotEventInterval,
		SnapshotTimeInterval:  cfg.SnapshotTimeInterval,
	}, log)

	return a, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// newStateStore prefers Redis so server and workers share profiles; a
// process-local store only makes sense for single-binary development.
func newStateStore(cfg Config, log *logger.Logger) statestore.Store {
	if cfg.StateStore == "redis" {
		store, err := statestore.NewRedisStore(log)
		if err == nil {
			return store
		}
		log.Warn("Redis state store unavailable, falling back to in-memory", "error", err)
	}
	return statestore.NewMemoryStore(log)
}

func newNotifyBus(cfg Config, log *logger.Logger) notify.Bus {
	if cfg.NotifyBus == "redis" {
		bus, err := notify.NewRedisBus(log)
		if err == nil {
			return bus
		}
		log.Warn("Redis notification bus unavailable, falling back to in-memory", "error", err)
	}
	return notify.NewMemoryBus(log)
}
