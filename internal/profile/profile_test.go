package profile

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/openedtech/tutorcore/internal/bkt"
	"github.com/openedtech/tutorcore/internal/logger"
)

func sampleProfile() *StudentProfile {
	p := New("p-42")
	p.IsNewUser = false
	p.BKTModel["loops"] = bkt.New()
	p.BKTModel["loops"].Update(true)
	p.EmotionState.CurrentSentiment = SentimentExcited
	p.EmotionState.SentimentConfidence = map[string]float64{"positive": 0.6, "negative": 0.1, "neutral": 0.3}
	p.EmotionState.FrustrationLevel = 0.1
	p.BehaviorPatterns.ErrorFrequency = 0.25
	p.BehaviorPatterns.Counters["help_requests"] = 3
	p.BehaviorPatterns.Counters["question_count_css_selectors"] = 2
	p.PushSubmissionTimestamp(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))
	p.PushRecentEvent(RecentEvent{
		EventType: "test_submission",
		Timestamp: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		EventData: map[string]any{"topic_id": "loops", "is_correct": true},
	})
	p.KnowledgeLevelHistory["level_2"] = &LevelStats{Visits: 4, TotalDurationMS: 90000}
	return p
}

func TestRoundTripThroughJSON(t *testing.T) {
	p := sampleProfile()

	// Snapshot documents travel through JSON, so round trip through a
	// real marshal to catch type drift (ints becoming float64 etc.).
	raw, err := json.Marshal(p.ToMap())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := FromMap(doc, logger.NewNop())

	if got.ParticipantID != p.ParticipantID {
		t.Fatalf("participant_id: got %q want %q", got.ParticipantID, p.ParticipantID)
	}
	if got.IsNewUser {
		t.Fatal("restored profile must not be a new user")
	}
	if math.Abs(got.BKTModel["loops"].MasteryProb-p.BKTModel["loops"].MasteryProb) > 1e-9 {
		t.Fatalf("bkt mastery: got %v want %v", got.BKTModel["loops"].MasteryProb, p.BKTModel["loops"].MasteryProb)
	}
	if got.EmotionState.CurrentSentiment != SentimentExcited {
		t.Fatalf("current_sentiment: got %q", got.EmotionState.CurrentSentiment)
	}
	sum := 0.0
	for _, v := range got.EmotionState.SentimentConfidence {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("sentiment confidence does not sum to 1: %v", sum)
	}
	if got.BehaviorPatterns.Counters["help_requests"] != 3 {
		t.Fatalf("help_requests: got %d", got.BehaviorPatterns.Counters["help_requests"])
	}
	if got.BehaviorPatterns.Counters["question_count_css_selectors"] != 2 {
		t.Fatalf("question counter lost: %v", got.BehaviorPatterns.Counters)
	}
	if math.Abs(got.BehaviorPatterns.ErrorFrequency-0.25) > 1e-9 {
		t.Fatalf("error_frequency: got %v", got.BehaviorPatterns.ErrorFrequency)
	}
	if len(got.SubmissionTimestamps) != 1 || !got.SubmissionTimestamps[0].Equal(p.SubmissionTimestamps[0]) {
		t.Fatalf("submission timestamps: got %v", got.SubmissionTimestamps)
	}
	if len(got.RecentEvents) != 1 || got.RecentEvents[0].EventType != "test_submission" {
		t.Fatalf("recent events: got %v", got.RecentEvents)
	}
	st := got.KnowledgeLevelHistory["level_2"]
	if st == nil || st.Visits != 4 || st.TotalDurationMS != 90000 {
		t.Fatalf("knowledge level history: got %+v", st)
	}
}

func TestFromMapMalformedTimestampSubstitutesNow(t *testing.T) {
	doc := map[string]any{
		"participant_id":        "p-1",
		"submission_timestamps": []any{"not-a-time"},
	}
	before := time.Now().UTC()
	p := FromMap(doc, logger.NewNop())
	if len(p.SubmissionTimestamps) != 1 {
		t.Fatalf("expected one timestamp, got %d", len(p.SubmissionTimestamps))
	}
	if p.SubmissionTimestamps[0].Before(before.Add(-time.Minute)) {
		t.Fatalf("malformed timestamp was not replaced with now: %v", p.SubmissionTimestamps[0])
	}
}

func TestBufferCaps(t *testing.T) {
	p := New("p-1")
	for i := 0; i < MaxRecentEvents+20; i++ {
		p.PushRecentEvent(RecentEvent{EventType: "code_edit", Timestamp: time.Now()})
	}
	if len(p.RecentEvents) != MaxRecentEvents {
		t.Fatalf("recent_events over cap: %d", len(p.RecentEvents))
	}
	for i := 0; i < MaxSubmissionTimestamps+10; i++ {
		p.PushSubmissionTimestamp(time.Now())
	}
	if len(p.SubmissionTimestamps) != MaxSubmissionTimestamps {
		t.Fatalf("submission_timestamps over cap: %d", len(p.SubmissionTimestamps))
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := sampleProfile()
	c := p.Clone()
	c.BKTModel["loops"].MasteryProb = 0.999
	c.BehaviorPatterns.Counters["help_requests"] = 99
	c.EmotionState.SentimentConfidence["positive"] = 0.9
	c.KnowledgeLevelHistory["level_2"].Visits = 77

	if p.BKTModel["loops"].MasteryProb == 0.999 {
		t.Fatal("clone aliased bkt state")
	}
	if p.BehaviorPatterns.Counters["help_requests"] == 99 {
		t.Fatal("clone aliased counters")
	}
	if p.EmotionState.SentimentConfidence["positive"] == 0.9 {
		t.Fatal("clone aliased sentiment confidence")
	}
	if p.KnowledgeLevelHistory["level_2"].Visits == 77 {
		t.Fatal("clone aliased knowledge level history")
	}
}

func TestNormalizeSentimentZeroVector(t *testing.T) {
	conf := map[string]float64{"positive": 0, "negative": 0, "neutral": 0}
	NormalizeSentiment(conf)
	if conf["neutral"] != 1 {
		t.Fatalf("zero vector should reset to neutral, got %v", conf)
	}
}
