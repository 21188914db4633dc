package interpreter

import (
	"time"

	"github.com/openedtech/tutorcore/internal/profile"
	"github.com/openedtech/tutorcore/internal/types"
)

// recomputeWindowMetrics derives the behavior metrics from the
// sliding window ending at ts. learning_velocity is left unchanged
// when fewer than two submissions fall inside the window.
func (i *Interpreter) recomputeWindowMetrics(ts time.Time, p *profile.StudentProfile, res *Result) {
	windowStart := ts.Add(-i.cfg.MetricsWindow)

	var total, errors, helps int
	for _, ev := range p.RecentEvents {
		if !ev.Timestamp.After(windowStart) || ev.Timestamp.After(ts) {
			continue
		}
		total++
		switch ev.EventType {
		case types.EventTestSubmission:
			if correct, ok := boolField(ev.EventData, "is_correct"); ok && !correct {
				errors++
			}
		case types.EventAIHelpRequest:
			helps++
		}
	}

	denom := total
	if denom < 1 {
		denom = 1
	}
	p.BehaviorPatterns.ErrorFrequency = profile.Clamp01(float64(errors) / float64(denom))
	p.BehaviorPatterns.HelpSeekingTendency = profile.Clamp01(float64(helps) / float64(denom))
	res.FieldUpdates["behavior_patterns.error_frequency"] = p.BehaviorPatterns.ErrorFrequency
	res.FieldUpdates["behavior_patterns.help_seeking_tendency"] = p.BehaviorPatterns.HelpSeekingTendency

	var windowSubs []time.Time
	for _, sub := range p.SubmissionTimestamps {
		if sub.After(windowStart) && !sub.After(ts) {
			windowSubs = append(windowSubs, sub)
		}
	}
	if len(windowSubs) >= 2 {
		span := windowSubs[len(windowSubs)-1].Sub(windowSubs[0]).Seconds()
		avgInterval := span / float64(len(windowSubs)-1)
		if avgInterval < 30 {
			avgInterval = 30
		}
		velocity := 300 / avgInterval
		if velocity > 1 {
			velocity = 1
		}
		p.BehaviorPatterns.LearningVelocity = profile.Clamp01(velocity)
		res.FieldUpdates["behavior_patterns.learning_velocity"] = p.BehaviorPatterns.LearningVelocity
	}
}

// nudgeEmotion shifts the three-class sentiment vector by weighted
// deltas, renormalizes, and keeps the derived affect levels in sync.
func (i *Interpreter) nudgeEmotion(p *profile.StudentProfile, res *Result, deltas map[string]float64, weight float64) {
	conf := p.EmotionState.SentimentConfidence
	for k, d := range deltas {
		conf[k] = profile.Clamp01(conf[k] + d*weight)
	}
	profile.NormalizeSentiment(conf)
	p.EmotionState.FrustrationLevel = profile.Clamp01(conf["negative"])
	p.EmotionState.EngagementLevel = profile.Clamp01(conf["positive"])

	res.FieldUpdates["emotion_state.sentiment_confidence"] = map[string]any{
		"positive": conf["positive"],
		"negative": conf["negative"],
		"neutral":  conf["neutral"],
	}
	res.FieldUpdates["emotion_state.frustration_level"] = p.EmotionState.FrustrationLevel
	res.FieldUpdates["emotion_state.engagement_level"] = p.EmotionState.EngagementLevel
}

// ApplySentiment folds one classifier observation into the emotion
// state: a one-hot update scaled by confidence, blended with weight w,
// then renormalized. Frustration tracks the negative mass and
// engagement the positive mass.
func ApplySentiment(p *profile.StudentProfile, label string, confidence, w float64) map[string]any {
	update := map[string]float64{"positive": 0, "negative": 0, "neutral": 0}
	normalized := normalizeLabel(label)
	if _, ok := update[normalized]; ok {
		update[normalized] = profile.Clamp01(confidence)
	}

	conf := p.EmotionState.SentimentConfidence
	for _, k := range []string{"positive", "negative", "neutral"} {
		conf[k] = conf[k]*(1-w) + update[k]*w
	}
	profile.NormalizeSentiment(conf)
	p.EmotionState.FrustrationLevel = profile.Clamp01(conf["negative"])
	p.EmotionState.EngagementLevel = profile.Clamp01(conf["positive"])
	p.EmotionState.CurrentSentiment = sentimentClass(label, conf)

	return map[string]any{
		"emotion_state.sentiment_confidence": map[string]any{
			"positive": conf["positive"],
			"negative": conf["negative"],
			"neutral":  conf["neutral"],
		},
		"emotion_state.frustration_level": p.EmotionState.FrustrationLevel,
		"emotion_state.engagement_level":  p.EmotionState.EngagementLevel,
		"emotion_state.current_sentiment": p.EmotionState.CurrentSentiment,
	}
}

func normalizeLabel(label string) string {
	switch label {
	case "positive", "negative", "neutral":
		return label
	case profile.SentimentExcited:
		return "positive"
	case profile.SentimentFrustrated, profile.SentimentConfused:
		return "negative"
	default:
		return "neutral"
	}
}

// sentimentClass maps the classifier output onto the four affect
// classes the prompt layer understands.
func sentimentClass(label string, conf map[string]float64) string {
	switch label {
	case profile.SentimentFrustrated, profile.SentimentConfused, profile.SentimentExcited, profile.SentimentNeutral:
		return label
	case "negative":
		return profile.SentimentFrustrated
	case "positive":
		return profile.SentimentExcited
	default:
		if conf["negative"] > 0.5 {
			return profile.SentimentFrustrated
		}
		if conf["positive"] > 0.5 {
			return profile.SentimentExcited
		}
		return profile.SentimentNeutral
	}
}
