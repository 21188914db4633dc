package statestore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/profile"
)

// memoryStore keeps serialized profile documents in process memory.
// Used by tests and single-node deployments without Redis; semantics
// match the Redis store.
type memoryStore struct {
	mu    sync.RWMutex
	docs  map[string][]byte
	locks *participantLocks
	log   *logger.Logger
}

func NewMemoryStore(log *logger.Logger) Store {
	return &memoryStore{
		docs:  make(map[string][]byte),
		locks: newParticipantLocks(),
		log:   log.With("service", "MemoryStateStore"),
	}
}

func (s *memoryStore) Get(ctx context.Context, participantID string) (*profile.StudentProfile, error) {
	s.mu.RLock()
	raw, ok := s.docs[participantID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return profile.FromMap(doc, s.log), nil
}

func (s *memoryStore) Put(ctx context.Context, participantID string, p *profile.StudentProfile) error {
	raw, err := json.Marshal(p.ToMap())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[participantID] = raw
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) SetFields(ctx context.Context, participantID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	lock := s.locks.get(participantID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	raw, ok := s.docs[participantID]
	s.mu.RUnlock()

	doc := map[string]any{}
	if ok {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
	} else {
		doc = profile.New(participantID).ToMap()
	}
	applyFieldUpdates(doc, fields)

	updated, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[participantID] = updated
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, participantID string) error {
	s.mu.Lock()
	delete(s.docs, participantID)
	s.mu.Unlock()
	return nil
}
