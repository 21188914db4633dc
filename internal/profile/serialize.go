package profile

import (
	"encoding/json"
	"time"

	"github.com/openedtech/tutorcore/internal/bkt"
	"github.com/openedtech/tutorcore/internal/logger"
)

// metricKeys are the fixed [0,1] behavior metrics; every other numeric
// key inside behavior_patterns is an open-ended counter.
var metricKeys = map[string]bool{
	"error_frequency":       true,
	"help_seeking_tendency": true,
	"persistence_score":     true,
	"learning_velocity":     true,
	"attention_stability":   true,
}

// ToMap serializes the profile into the snapshot document layout. All
// timestamps become ISO-8601 UTC strings.
func (p *StudentProfile) ToMap() map[string]any {
	bktModels := make(map[string]any, len(p.BKTModel))
	for topic, st := range p.BKTModel {
		bktModels[topic] = st.ToMap()
	}

	behavior := map[string]any{
		"error_frequency":       p.BehaviorPatterns.ErrorFrequency,
		"help_seeking_tendency": p.BehaviorPatterns.HelpSeekingTendency,
		"persistence_score":     p.BehaviorPatterns.PersistenceScore,
		"learning_velocity":     p.BehaviorPatterns.LearningVelocity,
		"attention_stability":   p.BehaviorPatterns.AttentionStability,
	}
	for k, v := range p.BehaviorPatterns.Counters {
		behavior[k] = v
	}

	submissions := make([]any, 0, len(p.SubmissionTimestamps))
	for _, ts := range p.SubmissionTimestamps {
		submissions = append(submissions, ts.UTC().Format(time.RFC3339Nano))
	}

	events := make([]any, 0, len(p.RecentEvents))
	for _, ev := range p.RecentEvents {
		events = append(events, map[string]any{
			"event_type": ev.EventType,
			"timestamp":  ev.Timestamp.UTC().Format(time.RFC3339Nano),
			"event_data": ev.EventData,
		})
	}

	levels := make(map[string]any, len(p.KnowledgeLevelHistory))
	for level, st := range p.KnowledgeLevelHistory {
		levels[level] = map[string]any{
			"visits":            st.Visits,
			"total_duration_ms": st.TotalDurationMS,
		}
	}

	return map[string]any{
		"participant_id": p.ParticipantID,
		"is_new_user":    p.IsNewUser,
		"bkt_model":      bktModels,
		"emotion_state": map[string]any{
			"current_sentiment": p.EmotionState.CurrentSentiment,
			"sentiment_confidence": map[string]any{
				"positive": p.EmotionState.SentimentConfidence["positive"],
				"negative": p.EmotionState.SentimentConfidence["negative"],
				"neutral":  p.EmotionState.SentimentConfidence["neutral"],
			},
			"frustration_level": p.EmotionState.FrustrationLevel,
			"engagement_level":  p.EmotionState.EngagementLevel,
			"confidence_level":  p.EmotionState.ConfidenceLevel,
		},
		"behavior_patterns":       behavior,
		"submission_timestamps":   submissions,
		"recent_events":           events,
		"knowledge_level_history": levels,
	}
}

// FromMap restores a profile from the snapshot layout. Restored
// profiles are never new users unless the caller flips the flag back.
// Malformed timestamps are replaced with the current time and logged.
func FromMap(data map[string]any, log *logger.Logger) *StudentProfile {
	p := New(asString(data["participant_id"]))
	p.IsNewUser = false

	if models, ok := data["bkt_model"].(map[string]any); ok {
		for topic, raw := range models {
			if m, ok := raw.(map[string]any); ok {
				p.BKTModel[topic] = bkt.FromMap(m)
			}
		}
	}

	if es, ok := data["emotion_state"].(map[string]any); ok {
		if s := asString(es["current_sentiment"]); s != "" {
			p.EmotionState.CurrentSentiment = s
		}
		if conf, ok := es["sentiment_confidence"].(map[string]any); ok {
			for _, k := range []string{"positive", "negative", "neutral"} {
				p.EmotionState.SentimentConfidence[k] = Clamp01(asFloat(conf[k]))
			}
			NormalizeSentiment(p.EmotionState.SentimentConfidence)
		}
		p.EmotionState.FrustrationLevel = Clamp01(asFloat(es["frustration_level"]))
		p.EmotionState.EngagementLevel = Clamp01(asFloat(es["engagement_level"]))
		p.EmotionState.ConfidenceLevel = Clamp01(asFloat(es["confidence_level"]))
	}

	if bp, ok := data["behavior_patterns"].(map[string]any); ok {
		p.BehaviorPatterns.ErrorFrequency = Clamp01(asFloat(bp["error_frequency"]))
		p.BehaviorPatterns.HelpSeekingTendency = Clamp01(asFloat(bp["help_seeking_tendency"]))
		p.BehaviorPatterns.PersistenceScore = Clamp01(asFloat(bp["persistence_score"]))
		p.BehaviorPatterns.LearningVelocity = Clamp01(asFloat(bp["learning_velocity"]))
		p.BehaviorPatterns.AttentionStability = Clamp01(asFloat(bp["attention_stability"]))
		for k, v := range bp {
			if metricKeys[k] {
				continue
			}
			p.BehaviorPatterns.Counters[k] = int(asFloat(v))
		}
	}

	if raw, ok := data["submission_timestamps"].([]any); ok {
		for _, item := range raw {
			p.SubmissionTimestamps = append(p.SubmissionTimestamps, parseTimestamp(asString(item), log))
		}
		if len(p.SubmissionTimestamps) > MaxSubmissionTimestamps {
			p.SubmissionTimestamps = p.SubmissionTimestamps[len(p.SubmissionTimestamps)-MaxSubmissionTimestamps:]
		}
	}

	if raw, ok := data["recent_events"].([]any); ok {
		for _, item := range raw {
			ev, ok := item.(map[string]any)
			if !ok {
				continue
			}
			re := RecentEvent{
				EventType: asString(ev["event_type"]),
				Timestamp: parseTimestamp(asString(ev["timestamp"]), log),
			}
			if payload, ok := ev["event_data"].(map[string]any); ok {
				re.EventData = payload
			}
			p.RecentEvents = append(p.RecentEvents, re)
		}
		if len(p.RecentEvents) > MaxRecentEvents {
			p.RecentEvents = p.RecentEvents[len(p.RecentEvents)-MaxRecentEvents:]
		}
	}

	if levels, ok := data["knowledge_level_history"].(map[string]any); ok {
		for level, raw := range levels {
			st, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			p.KnowledgeLevelHistory[level] = &LevelStats{
				Visits:          int(asFloat(st["visits"])),
				TotalDurationMS: int64(asFloat(st["total_duration_ms"])),
			}
		}
	}

	return p
}

func parseTimestamp(raw string, log *logger.Logger) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		if log != nil {
			log.Warn("Malformed timestamp in profile data, substituting now", "raw", raw, "error", err)
		}
		return time.Now().UTC()
	}
	return ts.UTC()
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	case int:
		return float64(f)
	case int64:
		return float64(f)
	case json.Number:
		parsed, err := f.Float64()
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
