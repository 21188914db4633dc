package profile

import (
	"time"

	"github.com/openedtech/tutorcore/internal/bkt"
)

// Buffer caps. Oldest entries are dropped once a cap is reached.
const (
	MaxRecentEvents         = 100
	MaxSubmissionTimestamps = 50
)

// Sentiment classes recognized by the prompt layer.
const (
	SentimentNeutral    = "neutral"
	SentimentFrustrated = "frustrated"
	SentimentConfused   = "confused"
	SentimentExcited    = "excited"
)

type EmotionState struct {
	CurrentSentiment    string
	SentimentConfidence map[string]float64 // positive / negative / neutral, sums to 1
	FrustrationLevel    float64
	EngagementLevel     float64
	ConfidenceLevel     float64
}

type RecentEvent struct {
	EventType string
	Timestamp time.Time
	EventData map[string]any
}

// LevelStats accumulates visits to one knowledge level of the content
// tree. A leave without a matching enter still accrues duration.
type LevelStats struct {
	Visits          int
	TotalDurationMS int64
}

type BehaviorPatterns struct {
	ErrorFrequency      float64
	HelpSeekingTendency float64
	PersistenceScore    float64
	LearningVelocity    float64
	AttentionStability  float64
	// Counters holds the open-ended event tallies (help_requests,
	// code_edits, question_count_<title>, ...) keyed the way they are
	// serialized inside behavior_patterns.
	Counters map[string]int
}

// StudentProfile is the full per-learner state: cognitive (BKT per
// topic), affective, and behavioral. It is a value object: stores hand
// out fresh copies, never aliases.
type StudentProfile struct {
	ParticipantID         string
	IsNewUser             bool
	BKTModel              map[string]*bkt.State
	EmotionState          EmotionState
	BehaviorPatterns      BehaviorPatterns
	SubmissionTimestamps  []time.Time
	RecentEvents          []RecentEvent
	KnowledgeLevelHistory map[string]*LevelStats
}

func New(participantID string) *StudentProfile {
	return &StudentProfile{
		ParticipantID: participantID,
		IsNewUser:     true,
		BKTModel:      map[string]*bkt.State{},
		EmotionState: EmotionState{
			CurrentSentiment: SentimentNeutral,
			SentimentConfidence: map[string]float64{
				"positive": 0,
				"negative": 0,
				"neutral":  1,
			},
			FrustrationLevel: 0,
			EngagementLevel:  0.5,
			ConfidenceLevel:  0.5,
		},
		BehaviorPatterns: BehaviorPatterns{
			PersistenceScore:   0.5,
			AttentionStability: 0.5,
			Counters:           map[string]int{},
		},
		KnowledgeLevelHistory: map[string]*LevelStats{},
	}
}

// PushRecentEvent appends to the bounded recent-event buffer.
func (p *StudentProfile) PushRecentEvent(ev RecentEvent) {
	p.RecentEvents = append(p.RecentEvents, ev)
	if len(p.RecentEvents) > MaxRecentEvents {
		p.RecentEvents = p.RecentEvents[len(p.RecentEvents)-MaxRecentEvents:]
	}
}

// PushSubmissionTimestamp appends to the bounded submission buffer.
func (p *StudentProfile) PushSubmissionTimestamp(ts time.Time) {
	p.SubmissionTimestamps = append(p.SubmissionTimestamps, ts)
	if len(p.SubmissionTimestamps) > MaxSubmissionTimestamps {
		p.SubmissionTimestamps = p.SubmissionTimestamps[len(p.SubmissionTimestamps)-MaxSubmissionTimestamps:]
	}
}

// Clamp01 bounds a probability-like value to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizeSentiment rescales the three-class confidence vector so it
// sums to 1. An all-zero vector resets to pure neutral.
func NormalizeSentiment(conf map[string]float64) {
	total := 0.0
	for _, k := range []string{"positive", "negative", "neutral"} {
		if conf[k] < 0 {
			conf[k] = 0
		}
		total += conf[k]
	}
	if total <= 0 {
		conf["positive"], conf["negative"], conf["neutral"] = 0, 0, 1
		return
	}
	for _, k := range []string{"positive", "negative", "neutral"} {
		conf[k] = conf[k] / total
	}
}

// Clone returns a deep copy. The state store materializes reads through
// this so callers never share mutable state.
func (p *StudentProfile) Clone() *StudentProfile {
	cp := *p
	cp.BKTModel = make(map[string]*bkt.State, len(p.BKTModel))
	for topic, st := range p.BKTModel {
		s := *st
		cp.BKTModel[topic] = &s
	}
	cp.EmotionState.SentimentConfidence = make(map[string]float64, len(p.EmotionState.SentimentConfidence))
	for k, v := range p.EmotionState.SentimentConfidence {
		cp.EmotionState.SentimentConfidence[k] = v
	}
	cp.BehaviorPatterns.Counters = make(map[string]int, len(p.BehaviorPatterns.Counters))
	for k, v := range p.BehaviorPatterns.Counters {
		cp.BehaviorPatterns.Counters[k] = v
	}
	cp.SubmissionTimestamps = append([]time.Time(nil), p.SubmissionTimestamps...)
	cp.RecentEvents = make([]RecentEvent, len(p.RecentEvents))
	for i, ev := range p.RecentEvents {
		cp.RecentEvents[i] = ev
		if ev.EventData != nil {
			data := make(map[string]any, len(ev.EventData))
			for k, v := range ev.EventData {
				data[k] = v
			}
			cp.RecentEvents[i].EventData = data
		}
	}
	cp.KnowledgeLevelHistory = make(map[string]*LevelStats, len(p.KnowledgeLevelHistory))
	for level, st := range p.KnowledgeLevelHistory {
		s := *st
		cp.KnowledgeLevelHistory[level] = &s
	}
	return &cp
}
