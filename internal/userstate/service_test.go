package userstate

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/openedtech/tutorcore/internal/interpreter"
	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/repos"
	"github.com/openedtech/tutorcore/internal/statestore"
	"github.com/openedtech/tutorcore/internal/types"
)

// memEventLog is an in-memory stand-in for the gorm repo so the
// lifecycle tests stay deterministic down to the nanosecond.
type memEventLog struct {
	entries []*types.EventLogEntry
}

func (m *memEventLog) Append(_ context.Context, _ *gorm.DB, entry *types.EventLogEntry) (*types.EventLogEntry, error) {
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *memEventLog) byParticipant(participantID string) []*types.EventLogEntry {
	var out []*types.EventLogEntry
	for _, e := range m.entries {
		if e.ParticipantID == participantID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (m *memEventLog) GetByParticipant(_ context.Context, _ *gorm.DB, participantID string) ([]*types.EventLogEntry, error) {
	return m.byParticipant(participantID), nil
}

func (m *memEventLog) GetLatestSnapshot(_ context.Context, _ *gorm.DB, participantID string) (*types.EventLogEntry, error) {
	all := m.byParticipant(participantID)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].EventType == types.EventStateSnapshot {
			return all[i], nil
		}
	}
	return nil, nil
}

func (m *memEventLog) GetAfterTimestamp(_ context.Context, _ *gorm.DB, participantID string, ts time.Time) ([]*types.EventLogEntry, error) {
	var out []*types.EventLogEntry
	for _, e := range m.byParticipant(participantID) {
		if e.Timestamp.After(ts) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEventLog) GetCountAfterTimestamp(ctx context.Context, tx *gorm.DB, participantID string, ts time.Time) (int64, error) {
	out, _ := m.GetAfterTimestamp(ctx, tx, participantID, ts)
	return int64(len(out)), nil
}

func (m *memEventLog) GetCountByParticipant(_ context.Context, _ *gorm.DB, participantID string) (int64, error) {
	return int64(len(m.byParticipant(participantID))), nil
}

var _ repos.EventLogRepo = (*memEventLog)(nil)

// syncWriter applies db_writer work inline: events and snapshots land
// in the log immediately. Snapshots reuse the timestamp of the newest
// logged event so replay boundaries stay exact.
type syncWriter struct {
	log          *memEventLog
	dropSnapshot bool
	snapshots    int
}

func (w *syncWriter) EnqueueEvent(ctx context.Context, participantID, eventType string, eventData map[string]any, ts time.Time) error {
	payload, err := json.Marshal(eventData)
	if err != nil {
		return err
	}
	_, err = w.log.Append(ctx, nil, &types.EventLogEntry{
		ParticipantID: participantID,
		EventType:     eventType,
		EventData:     payload,
		Timestamp:     ts,
	})
	return err
}

func (w *syncWriter) EnqueueSnapshot(ctx context.Context, participantID string, profileData map[string]any) error {
	w.snapshots++
	if w.dropSnapshot {
		return nil
	}
	ts := time.Now().UTC()
	if all := w.log.byParticipant(participantID); len(all) > 0 {
		ts = all[len(all)-1].Timestamp
	}
	payload, err := json.Marshal(map[string]any{"profile_data": profileData})
	if err != nil {
		return err
	}
	_, err = w.log.Append(ctx, nil, &types.EventLogEntry{
		ParticipantID: participantID,
		EventType:     types.EventStateSnapshot,
		EventData:     payload,
		Timestamp:     ts,
	})
	return err
}

func newTestService(eventLog *memEventLog, writer *syncWriter, cfg Config) *Service {
	log := logger.NewNop()
	return NewService(
		statestore.NewMemoryStore(log),
		eventLog,
		interpreter.New(interpreter.DefaultConfig(), log),
		writer,
		cfg,
		log,
	)
}

func submission(pid, topic string, correct bool, ts time.Time) interpreter.Event {
	return interpreter.Event{
		ParticipantID: pid,
		EventType:     types.EventTestSubmission,
		EventData:     map[string]any{"topic_id": topic, "is_correct": correct},
		Timestamp:     ts,
	}
}

func TestGetOrCreateNewParticipant(t *testing.T) {
	eventLog := &memEventLog{}
	svc := newTestService(eventLog, &syncWriter{log: eventLog}, DefaultConfig())
	ctx := context.Background()

	p, created, err := svc.GetOrCreateProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if !created || !p.IsNewUser {
		t.Fatalf("first contact should create a new-user profile, created=%v is_new=%v", created, p.IsNewUser)
	}
	if p.EmotionState.CurrentSentiment != "neutral" {
		t.Fatalf("default sentiment: got %q", p.EmotionState.CurrentSentiment)
	}

	p2, created, err := svc.GetOrCreateProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if created || p2.IsNewUser {
		t.Fatalf("cached profile reported as new, created=%v is_new=%v", created, p2.IsNewUser)
	}
}

func TestHandleEventAppliesUpdatesAndSnapshots(t *testing.T) {
	eventLog := &memEventLog{}
	writer := &syncWriter{log: eventLog}
	svc := newTestService(eventLog, writer, DefaultConfig())
	ctx := context.Background()

	ts := time.Now().UTC().Add(-time.Hour)
	if err := svc.HandleEvent(ctx, submission("u1", "loops", true, ts)); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	p, err := svc.store.Get(ctx, "u1")
	if err != nil || p == nil {
		t.Fatalf("store get: %v %v", p, err)
	}
	if p.BKTModel["loops"] == nil || p.BKTModel["loops"].MasteryProb <= 0.2 {
		t.Fatalf("mastery did not rise: %+v", p.BKTModel["loops"])
	}

	var raw, snaps int
	for _, e := range eventLog.byParticipant("u1") {
		if e.EventType == types.EventStateSnapshot {
			snaps++
		} else {
			raw++
		}
	}
	if raw != 1 {
		t.Fatalf("raw event rows: got %d want 1", raw)
	}
	// SnapshotEventInterval defaults to 1, so every event snapshots.
	if snaps != 1 {
		t.Fatalf("snapshot rows: got %d want 1", snaps)
	}
}

func TestFrustrationForcesImmediateSnapshot(t *testing.T) {
	eventLog := &memEventLog{}
	writer := &syncWriter{log: eventLog}
	cfg := Config{SnapshotEventInterval: 1000, SnapshotTimeInterval: 24 * time.Hour}
	svc := newTestService(eventLog, writer, cfg)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, off := range []time.Duration{0, 4 * time.Second, 8 * time.Second} {
		if err := svc.HandleEvent(ctx, submission("u1", "loops", false, base.Add(off))); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	if writer.snapshots == 0 {
		t.Fatal("rapid errors did not force a snapshot")
	}
	p, err := svc.store.Get(ctx, "u1")
	if err != nil || p == nil {
		t.Fatalf("store get: %v %v", p, err)
	}
	if p.EmotionState.CurrentSentiment != "frustrated" {
		t.Fatalf("sentiment: got %q want frustrated", p.EmotionState.CurrentSentiment)
	}
}

func TestRecoveryFromSnapshot(t *testing.T) {
	eventLog := &memEventLog{}
	writer := &syncWriter{log: eventLog}
	svc := newTestService(eventLog, writer, DefaultConfig())
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	events := []interpreter.Event{
		submission("u1", "loops", false, base),
		{ParticipantID: "u1", EventType: types.EventAIHelpRequest,
			EventData: map[string]any{"content_title": "Loops"}, Timestamp: base.Add(40 * time.Second)},
		submission("u1", "loops", true, base.Add(90 * time.Second)),
		submission("u1", "loops", true, base.Add(150 * time.Second)),
	}
	for i, ev := range events {
		if err := svc.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	live, err := svc.store.Get(ctx, "u1")
	if err != nil || live == nil {
		t.Fatalf("live get: %v %v", live, err)
	}

	// Cold cache: a second service instance over the same log.
	cold := newTestService(eventLog, &syncWriter{log: eventLog}, DefaultConfig())
	recovered, created, err := cold.GetOrCreateProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if created || recovered.IsNewUser {
		t.Fatal("recovered profile must not be flagged new")
	}
	assertProfilesConverge(t, live.ToMap(), recovered.ToMap())
}

func TestRecoveryByFullReplayWithoutSnapshot(t *testing.T) {
	eventLog := &memEventLog{}
	writer := &syncWriter{log: eventLog, dropSnapshot: true}
	svc := newTestService(eventLog, writer, DefaultConfig())
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	events := []interpreter.Event{
		submission("u1", "loops", false, base),
		submission("u1", "loops", false, base.Add(4*time.Second)),
		submission("u1", "loops", false, base.Add(8*time.Second)),
		{ParticipantID: "u1", EventType: types.EventCodeEdit,
			EventData: map[string]any{}, Timestamp: base.Add(30 * time.Second)},
		submission("u1", "loops", true, base.Add(70*time.Second)),
		{ParticipantID: "u1", EventType: types.EventKnowledgeLevelAccess,
			EventData: map[string]any{"level": "2", "action": "enter"}, Timestamp: base.Add(80 * time.Second)},
	}
	for i, ev := range events {
		if err := svc.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	live, err := svc.store.Get(ctx, "u1")
	if err != nil || live == nil {
		t.Fatalf("live get: %v %v", live, err)
	}

	coldWriter := &syncWriter{log: eventLog, dropSnapshot: true}
	cold := newTestService(eventLog, coldWriter, DefaultConfig())
	recovered, created, err := cold.GetOrCreateProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if created {
		t.Fatal("participant with history must not be created fresh")
	}
	// Replay must never re-trigger snapshot emission.
	if coldWriter.snapshots != 0 {
		t.Fatalf("replay emitted %d snapshots", coldWriter.snapshots)
	}
	assertProfilesConverge(t, live.ToMap(), recovered.ToMap())

	// The frustrated classification from the rapid-error run is sticky
	// and must survive replay.
	if recovered.EmotionState.CurrentSentiment != "frustrated" {
		t.Fatalf("sentiment lost in replay: %q", recovered.EmotionState.CurrentSentiment)
	}
}

func TestUnreadableSnapshotFallsBackToDefault(t *testing.T) {
	eventLog := &memEventLog{}
	ctx := context.Background()
	_, _ = eventLog.Append(ctx, nil, &types.EventLogEntry{
		ParticipantID: "u1",
		EventType:     types.EventStateSnapshot,
		EventData:     []byte(`{"garbage"`),
		Timestamp:     time.Now().UTC().Add(-time.Minute),
	})

	svc := newTestService(eventLog, &syncWriter{log: eventLog}, DefaultConfig())
	p, created, err := svc.GetOrCreateProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if created || p.IsNewUser {
		t.Fatal("corrupt snapshot must not look like a brand-new learner")
	}
	if p.EmotionState.CurrentSentiment != "neutral" {
		t.Fatalf("expected default profile, got sentiment %q", p.EmotionState.CurrentSentiment)
	}
}

// assertProfilesConverge compares two serialized profiles field by
// field, allowing 1e-9 drift on numeric leaves.
func assertProfilesConverge(t *testing.T, live, recovered map[string]any) {
	t.Helper()
	compareValues(t, "", live, recovered)
}

func compareValues(t *testing.T, path string, a, b any) {
	t.Helper()
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			t.Fatalf("%s: type mismatch %T vs %T", path, a, b)
		}
		if len(av) != len(bv) {
			t.Fatalf("%s: key count %d vs %d", path, len(av), len(bv))
		}
		for k, v := range av {
			compareValues(t, path+"."+k, v, bv[k])
		}
	case []any:
		bv, ok := b.([]any)
		if !ok {
			t.Fatalf("%s: type mismatch %T vs %T", path, a, b)
		}
		if len(av) != len(bv) {
			t.Fatalf("%s: length %d vs %d", path, len(av), len(bv))
		}
		for i := range av {
			compareValues(t, path, av[i], bv[i])
		}
	case float64:
		bf := asComparableFloat(b)
		if math.IsNaN(bf) {
			t.Fatalf("%s: numeric vs %T", path, b)
		}
		if math.Abs(av-bf) > 1e-9 {
			t.Fatalf("%s: %v vs %v", path, av, bf)
		}
	case int:
		compareValues(t, path, float64(av), b)
	case int64:
		compareValues(t, path, float64(av), b)
	default:
		bf := asComparableFloat(b)
		if af := asComparableFloat(a); !math.IsNaN(af) && !math.IsNaN(bf) {
			if math.Abs(af-bf) > 1e-9 {
				t.Fatalf("%s: %v vs %v", path, a, b)
			}
			return
		}
		if a != b {
			t.Fatalf("%s: %v vs %v", path, a, b)
		}
	}
}

func asComparableFloat(v any) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case int:
		return float64(f)
	case int64:
		return float64(f)
	default:
		return math.NaN()
	}
}
