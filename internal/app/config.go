package app

import (
	"strings"
	"time"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/utils"
)

type Config struct {
	Port    string
	DataDir string

	StateStore string
	NotifyBus  string

	SnapshotEventInterval int
	SnapshotTimeInterval  time.Duration

	QueueMaxDepth int64

	WorkerQueues        []string
	ChatConcurrency     int
	BehaviorConcurrency int
	SubmitConcurrency   int
	DBWriterConcurrency int

	RetrievalK       int
	RetrievalTimeout time.Duration
	SentimentTimeout time.Duration
	LLMTimeout       time.Duration
	SentimentWeight  float64
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Port:    utils.GetEnv("PORT", "8000", log),
		DataDir: utils.GetEnv("DATA_DIR", "./data", log),

		StateStore: utils.GetEnv("STATE_STORE", "redis", log),
		NotifyBus:  utils.GetEnv("NOTIFY_BUS", "redis", log),

		SnapshotEventInterval: utils.GetEnvAsInt("SNAPSHOT_EVENT_INTERVAL", 1, log),
		SnapshotTimeInterval:  utils.GetEnvAsDuration("SNAPSHOT_TIME_INTERVAL", time.Minute, log),

		QueueMaxDepth: int64(utils.GetEnvAsInt("QUEUE_MAX_DEPTH", 1000, log)),

		WorkerQueues:        splitList(utils.GetEnv("WORKER_QUEUES", "chat,behavior,submit,db_writer", log)),
		ChatConcurrency:     utils.GetEnvAsInt("CHAT_WORKER_CONCURRENCY", 4, log),
		BehaviorConcurrency: utils.GetEnvAsInt("BEHAVIOR_WORKER_CONCURRENCY", 4, log),
		SubmitConcurrency:   utils.GetEnvAsInt("SUBMIT_WORKER_CONCURRENCY", 2, log),
		DBWriterConcurrency: utils.GetEnvAsInt("DB_WRITER_CONCURRENCY", 2, log),

		RetrievalK:       utils.GetEnvAsInt("RETRIEVAL_K", 20, log),
		RetrievalTimeout: utils.GetEnvAsDuration("RETRIEVAL_TIMEOUT", 60*time.Second, log),
		SentimentTimeout: utils.GetEnvAsDuration("SENTIMENT_TIMEOUT", 30*time.Second, log),
		LLMTimeout:       utils.GetEnvAsDuration("LLM_TIMEOUT", 120*time.Second, log),
		SentimentWeight:  utils.GetEnvAsFloat("SENTIMENT_WEIGHT", 0.3, log),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
