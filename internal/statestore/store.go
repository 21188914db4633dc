package statestore

import (
	"context"
	"strings"
	"sync"

	"github.com/openedtech/tutorcore/internal/profile"
)

// Store is the hot cache of learner profiles. Get materializes a fresh
// StudentProfile on every call (callers never share mutable state), and
// SetFields applies a batch of dotted-path updates atomically per
// learner: a concurrent reader sees either all of the batch or none.
type Store interface {
	Get(ctx context.Context, participantID string) (*profile.StudentProfile, error)
	Put(ctx context.Context, participantID string, p *profile.StudentProfile) error
	SetFields(ctx context.Context, participantID string, fields map[string]any) error
	Delete(ctx context.Context, participantID string) error
}

// applyFieldUpdates walks each dotted path (e.g.
// "emotion_state.frustration_level", "bkt_model.topic_7") into the
// profile document, creating intermediate objects as needed.
func applyFieldUpdates(doc map[string]any, fields map[string]any) {
	for path, value := range fields {
		parts := strings.Split(path, ".")
		node := doc
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
}

// participantLocks serializes per-learner read-modify-write cycles
// within one process.
type participantLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newParticipantLocks() *participantLocks {
	return &participantLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *participantLocks) get(participantID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[participantID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[participantID] = l
	}
	return l
}
