package userstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openedtech/tutorcore/internal/interpreter"
	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/profile"
	"github.com/openedtech/tutorcore/internal/repos"
	"github.com/openedtech/tutorcore/internal/types"
)

// DBWriter is the durable-write side of the task system. The lifecycle
// service never writes the event log directly; raw events and
// snapshots go through the db_writer queue.
type DBWriter interface {
	EnqueueEvent(ctx context.Context, participantID, eventType string, eventData map[string]any, ts time.Time) error
	EnqueueSnapshot(ctx context.Context, participantID string, profileData map[string]any) error
}

type Config struct {
	SnapshotEventInterval int
	SnapshotTimeInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		SnapshotEventInterval: 1,
		SnapshotTimeInterval:  time.Minute,
	}
}

// Service owns the profile lifecycle: get-or-create with
// snapshot-driven recovery, live event handling, and snapshot policy.
type Service struct {
	store  Store
	events repos.EventLogRepo
	interp *interpreter.Interpreter
	writer DBWriter
	cfg    Config
	log    *logger.Logger
}

// Store is the subset of the state store the service needs.
type Store interface {
	Get(ctx context.Context, participantID string) (*profile.StudentProfile, error)
	Put(ctx context.Context, participantID string, p *profile.StudentProfile) error
	SetFields(ctx context.Context, participantID string, fields map[string]any) error
}

func NewService(store Store, events repos.EventLogRepo, interp *interpreter.Interpreter, writer DBWriter, cfg Config, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		events: events,
		interp: interp,
		writer: writer,
		cfg:    cfg,
		log:    log.With("service", "UserStateService"),
	}
}

// GetOrCreateProfile returns the learner's profile and whether it was
// created fresh. On a cache miss it reconstructs state from the latest
// snapshot plus subsequent events, or from the full history when no
// snapshot exists.
func (s *Service) GetOrCreateProfile(ctx context.Context, participantID string) (*profile.StudentProfile, bool, error) {
	cached, err := s.store.Get(ctx, participantID)
	if err != nil {
		return nil, false, fmt.Errorf("state store read: %w", err)
	}
	if cached != nil {
		return cached, false, nil
	}

	snapshot, err := s.events.GetLatestSnapshot(ctx, nil, participantID)
	if err != nil {
		return nil, false, fmt.Errorf("snapshot lookup: %w", err)
	}

	var (
		p      *profile.StudentProfile
		replay []*types.EventLogEntry
	)
	if snapshot != nil {
		p = s.materializeSnapshot(participantID, snapshot)
		replay, err = s.events.GetAfterTimestamp(ctx, nil, participantID, snapshot.Timestamp)
		if err != nil {
			return nil, false, fmt.Errorf("events after snapshot: %w", err)
		}
	} else {
		history, err := s.events.GetByParticipant(ctx, nil, participantID)
		if err != nil {
			return nil, false, fmt.Errorf("history lookup: %w", err)
		}
		if len(history) == 0 {
			p = profile.New(participantID)
			if err := s.store.Put(ctx, participantID, p); err != nil {
				return nil, false, fmt.Errorf("state store put: %w", err)
			}
			s.log.Info("Created profile for new participant", "participant_id", participantID)
			return p, true, nil
		}
		p = profile.New(participantID)
		p.IsNewUser = false
		replay = history
	}

	if err := s.store.Put(ctx, participantID, p); err != nil {
		return nil, false, fmt.Errorf("state store put: %w", err)
	}

	for _, entry := range replay {
		event, ok := decodeLogEntry(entry)
		if !ok {
			continue
		}
		res := s.interp.Interpret(event, p, true)
		if len(res.FieldUpdates) == 0 {
			continue
		}
		if err := s.store.SetFields(ctx, participantID, res.FieldUpdates); err != nil {
			return nil, false, fmt.Errorf("replay apply: %w", err)
		}
	}
	s.log.Info("Recovered profile from history",
		"participant_id", participantID,
		"had_snapshot", snapshot != nil,
		"replayed_events", len(replay))
	return p, false, nil
}

// HandleEvent interprets a live event, applies the resulting field
// updates, persists the raw event through the db_writer queue, and
// checks the snapshot policy.
func (s *Service) HandleEvent(ctx context.Context, event interpreter.Event) error {
	p, _, err := s.GetOrCreateProfile(ctx, event.ParticipantID)
	if err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res := s.interp.Interpret(event, p, false)
	if len(res.FieldUpdates) > 0 {
		if err := s.store.SetFields(ctx, event.ParticipantID, res.FieldUpdates); err != nil {
			return fmt.Errorf("apply field updates: %w", err)
		}
	}

	if err := s.writer.EnqueueEvent(ctx, event.ParticipantID, event.EventType, event.EventData, event.Timestamp); err != nil {
		return fmt.Errorf("enqueue event write: %w", err)
	}

	if res.SnapshotRequested {
		return s.emitSnapshot(ctx, event.ParticipantID)
	}
	// The event just handled is still in flight on db_writer, so it is
	// counted explicitly.
	return s.maybeSnapshot(ctx, event.ParticipantID, 1)
}

// MaybeSnapshot emits a snapshot when enough events or enough time has
// accumulated since the last one. Snapshots are permanent.
func (s *Service) MaybeSnapshot(ctx context.Context, participantID string) error {
	return s.maybeSnapshot(ctx, participantID, 0)
}

func (s *Service) maybeSnapshot(ctx context.Context, participantID string, inFlight int64) error {
	latest, err := s.events.GetLatestSnapshot(ctx, nil, participantID)
	if err != nil {
		return fmt.Errorf("snapshot lookup: %w", err)
	}

	var sinceCount int64
	var sinceTime time.Duration
	if latest != nil {
		sinceCount, err = s.events.GetCountAfterTimestamp(ctx, nil, participantID, latest.Timestamp)
		if err != nil {
			return fmt.Errorf("count after snapshot: %w", err)
		}
		sinceTime = time.Since(latest.Timestamp)
	} else {
		// No snapshot yet: only the event-count criterion applies,
		// since full replay of a short history is cheap.
		sinceCount, err = s.events.GetCountByParticipant(ctx, nil, participantID)
		if err != nil {
			return fmt.Errorf("count history: %w", err)
		}
	}

	if sinceCount+inFlight >= int64(s.cfg.SnapshotEventInterval) || sinceTime >= s.cfg.SnapshotTimeInterval {
		return s.emitSnapshot(ctx, participantID)
	}
	return nil
}

// emitSnapshot re-reads the profile at emission time so the snapshot
// reflects every update applied so far.
func (s *Service) emitSnapshot(ctx context.Context, participantID string) error {
	p, err := s.store.Get(ctx, participantID)
	if err != nil {
		return fmt.Errorf("state store read for snapshot: %w", err)
	}
	if p == nil {
		return nil
	}
	if err := s.writer.EnqueueSnapshot(ctx, participantID, p.ToMap()); err != nil {
		return fmt.Errorf("enqueue snapshot: %w", err)
	}
	s.log.Debug("Snapshot enqueued", "participant_id", participantID)
	return nil
}

func (s *Service) materializeSnapshot(participantID string, snapshot *types.EventLogEntry) *profile.StudentProfile {
	var data map[string]any
	if err := json.Unmarshal(snapshot.EventData, &data); err != nil {
		s.log.Warn("Unreadable snapshot payload, starting from default profile",
			"participant_id", participantID, "error", err)
		p := profile.New(participantID)
		p.IsNewUser = false
		return p
	}
	profileData, ok := data["profile_data"].(map[string]any)
	if !ok {
		s.log.Warn("Snapshot without profile_data, starting from default profile",
			"participant_id", participantID)
		p := profile.New(participantID)
		p.IsNewUser = false
		return p
	}
	return profile.FromMap(profileData, s.log)
}

func decodeLogEntry(entry *types.EventLogEntry) (interpreter.Event, bool) {
	if entry.EventType == types.EventStateSnapshot {
		return interpreter.Event{}, false
	}
	event := interpreter.Event{
		ParticipantID: entry.ParticipantID,
		EventType:     entry.EventType,
		Timestamp:     entry.Timestamp,
		EventData:     map[string]any{},
	}
	if len(entry.EventData) > 0 {
		if err := json.Unmarshal(entry.EventData, &event.EventData); err != nil {
			return interpreter.Event{}, false
		}
	}
	return event, true
}
