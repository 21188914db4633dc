package content

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/orchestrator"
	"github.com/openedtech/tutorcore/internal/prompts"
	"github.com/openedtech/tutorcore/internal/tasks"
)

const (
	typeLearning  = "learning_content"
	typeTestTasks = "test_tasks"
)

// Loader reads learning and test-task definitions from JSON files laid
// out as <dir>/<content_type>/<id>.json. Raw file bytes are cached;
// every call gets a fresh decode so callers may mutate the result.
type Loader struct {
	dir   string
	mu    sync.RWMutex
	cache map[string][]byte
	log   *logger.Logger
}

func NewLoader(dir string, log *logger.Logger) *Loader {
	return &Loader{
		dir:   dir,
		cache: make(map[string][]byte),
		log:   log.With("service", "ContentLoader"),
	}
}

// Load implements the orchestrator's content loader.
func (l *Loader) Load(_ context.Context, mode, contentID string) (*orchestrator.Content, error) {
	contentType := typeTestTasks
	if mode == prompts.ModeLearning {
		contentType = typeLearning
	}
	data, err := l.loadJSON(contentType, contentID)
	if err != nil {
		return nil, err
	}
	title, _ := data["title"].(string)
	if title == "" {
		title = contentID
	}
	return &orchestrator.Content{Title: title, Data: data}, nil
}

// LoadTestTask implements the submission handler's loader.
func (l *Loader) LoadTestTask(_ context.Context, topicID string) (*tasks.TestTask, error) {
	data, err := l.loadJSON(typeTestTasks, topicID)
	if err != nil {
		return nil, err
	}
	title, _ := data["title"].(string)
	task := &tasks.TestTask{Title: title}
	if raw, ok := data["checkpoints"].([]any); ok {
		for _, item := range raw {
			if cp, ok := item.(map[string]any); ok {
				task.Checkpoints = append(task.Checkpoints, cp)
			}
		}
	}
	if len(task.Checkpoints) == 0 {
		return nil, fmt.Errorf("test task %q has no checkpoints", topicID)
	}
	return task, nil
}

func (l *Loader) loadJSON(contentType, id string) (map[string]any, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("invalid content id %q", id)
	}
	key := contentType + "/" + id

	l.mu.RLock()
	raw, ok := l.cache[key]
	l.mu.RUnlock()
	if !ok {
		path := filepath.Join(l.dir, contentType, id+".json")
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s for %q not found: %w", contentType, id, err)
		}
		l.mu.Lock()
		l.cache[key] = raw
		l.mu.Unlock()
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode %s %q: %w", contentType, id, err)
	}
	return data, nil
}
