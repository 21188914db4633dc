package interpreter

import (
	"time"

	"github.com/openedtech/tutorcore/internal/bkt"
	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/profile"
	"github.com/openedtech/tutorcore/internal/types"
)

// Event is one inbound behavior signal, already decoded from the wire
// envelope.
type Event struct {
	ParticipantID string
	EventType     string
	EventData     map[string]any
	Timestamp     time.Time
}

// Result carries the dotted-path field updates the caller should apply
// through the state store, plus whether the frustration rule asked for
// a snapshot. In replay mode SnapshotRequested is never set.
type Result struct {
	FieldUpdates      map[string]any
	SnapshotRequested bool
}

type Config struct {
	MetricsWindow        time.Duration // sliding-window metrics
	FrustrationWindow    time.Duration
	FrustrationErrorRate float64
	FrustrationInterval  time.Duration
	FrustrationBump      float64
	SentimentWeight      float64
}

func DefaultConfig() Config {
	return Config{
		MetricsWindow:        10 * time.Minute,
		FrustrationWindow:    2 * time.Minute,
		FrustrationErrorRate: 0.75,
		FrustrationInterval:  10 * time.Second,
		FrustrationBump:      0.2,
		SentimentWeight:      0.3,
	}
}

// Interpreter evolves a profile from behavior events. It is a pure
// rule engine: it mutates only the profile copy it is handed and
// reports the changes as field updates; it never touches stores or
// queues itself, which lets the recovery loop replay events through
// the exact same rules.
type Interpreter struct {
	cfg Config
	log *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Interpreter {
	return &Interpreter{cfg: cfg, log: log.With("service", "BehaviorInterpreter")}
}

// Interpret applies the rule for one event to the given profile copy.
// Unknown event types are dropped after logging.
func (i *Interpreter) Interpret(event Event, p *profile.StudentProfile, isReplay bool) *Result {
	res := &Result{FieldUpdates: map[string]any{}}
	if event.ParticipantID == "" || event.EventType == "" {
		i.log.Warn("Event missing participant_id or event_type, dropping")
		return res
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	switch event.EventType {
	case types.EventTestSubmission:
		i.handleTestSubmission(event, p, res, isReplay)
	case types.EventAIHelpRequest:
		i.handleHelpRequest(event, p, res)
	case types.EventDomElementSelect, types.EventCodeEdit, types.EventPageFocusChange, types.EventUserIdle:
		i.handleLightweight(event, p, res)
	case types.EventKnowledgeLevelAccess:
		i.handleKnowledgeLevelAccess(event, p, res)
	case types.EventStateSnapshot:
		// Snapshots are state reloads, handled by the lifecycle
		// service; nothing to interpret.
	default:
		i.log.Info("Unhandled event type", "event_type", event.EventType)
	}
	return res
}

func (i *Interpreter) handleTestSubmission(event Event, p *profile.StudentProfile, res *Result, isReplay bool) {
	topicID, _ := event.EventData["topic_id"].(string)
	if topicID == "" {
		topicID, _ = event.EventData["topic"].(string)
	}
	isCorrect, hasCorrect := boolField(event.EventData, "is_correct")
	if !hasCorrect {
		isCorrect, hasCorrect = boolField(event.EventData, "passed")
	}

	if topicID != "" && hasCorrect {
		state, ok := p.BKTModel[topicID]
		if !ok {
			state = bkt.New()
			p.BKTModel[topicID] = state
		}
		state.Update(isCorrect)
		res.FieldUpdates["bkt_model."+topicID] = state.ToMap()
	}

	p.PushSubmissionTimestamp(event.Timestamp)
	i.pushRecentEvent(event, p, res)
	res.FieldUpdates["submission_timestamps"] = serializeTimestamps(p.SubmissionTimestamps)

	i.recomputeWindowMetrics(event.Timestamp, p, res)

	if hasCorrect {
		if isCorrect {
			i.nudgeEmotion(p, res, map[string]float64{"positive": 0.1, "neutral": -0.05, "negative": -0.05}, 0.3)
		} else {
			i.nudgeEmotion(p, res, map[string]float64{"negative": 0.1, "neutral": -0.05, "positive": -0.05}, 0.3)
			i.detectFrustration(event.Timestamp, p, res, isReplay)
		}
	}
}

func (i *Interpreter) handleHelpRequest(event Event, p *profile.StudentProfile, res *Result) {
	p.BehaviorPatterns.Counters["help_requests"]++
	res.FieldUpdates["behavior_patterns.help_requests"] = p.BehaviorPatterns.Counters["help_requests"]

	if title, ok := event.EventData["content_title"].(string); ok && title != "" {
		key := "question_count_" + title
		p.BehaviorPatterns.Counters[key]++
		res.FieldUpdates["behavior_patterns."+key] = p.BehaviorPatterns.Counters[key]
	}
	i.pushRecentEvent(event, p, res)
	i.nudgeEmotion(p, res, map[string]float64{"negative": 0.1, "neutral": -0.05, "positive": -0.05}, 0.2)
}

var lightweightCounters = map[string]string{
	types.EventDomElementSelect: "dom_selects",
	types.EventCodeEdit:         "code_edits",
	types.EventPageFocusChange:  "focus_changes",
	types.EventUserIdle:         "idle_count",
}

func (i *Interpreter) handleLightweight(event Event, p *profile.StudentProfile, res *Result) {
	counter := lightweightCounters[event.EventType]
	p.BehaviorPatterns.Counters[counter]++
	res.FieldUpdates["behavior_patterns."+counter] = p.BehaviorPatterns.Counters[counter]
	i.pushRecentEvent(event, p, res)

	switch event.EventType {
	case types.EventCodeEdit:
		i.nudgeEmotion(p, res, map[string]float64{"positive": 0.05, "neutral": -0.03, "negative": -0.02}, 0.1)
	case types.EventPageFocusChange:
		i.nudgeEmotion(p, res, map[string]float64{"negative": 0.02, "neutral": 0.01, "positive": -0.03}, 0.1)
	case types.EventUserIdle:
		i.nudgeEmotion(p, res, map[string]float64{"negative": 0.03, "neutral": 0.02, "positive": -0.05}, 0.1)
	}
}

func (i *Interpreter) handleKnowledgeLevelAccess(event Event, p *profile.StudentProfile, res *Result) {
	level, _ := event.EventData["level"].(string)
	action, _ := event.EventData["action"].(string)
	if level == "" {
		i.log.Warn("knowledge_level_access without level, dropping")
		return
	}
	stats, ok := p.KnowledgeLevelHistory[level]
	if !ok {
		stats = &profile.LevelStats{}
		p.KnowledgeLevelHistory[level] = stats
	}
	switch action {
	case "enter":
		stats.Visits++
	case "leave":
		if d, ok := numField(event.EventData, "duration_ms"); ok {
			stats.TotalDurationMS += int64(d)
		}
	}
	res.FieldUpdates["knowledge_level_history."+level] = map[string]any{
		"visits":            stats.Visits,
		"total_duration_ms": stats.TotalDurationMS,
	}
	i.pushRecentEvent(event, p, res)
}

// detectFrustration inspects the 2-minute submission window ending at
// ts. Rule: at least two submissions, error rate above threshold, and
// the last two closer together than the interval threshold.
func (i *Interpreter) detectFrustration(ts time.Time, p *profile.StudentProfile, res *Result, isReplay bool) {
	windowStart := ts.Add(-i.cfg.FrustrationWindow)
	var subs []profile.RecentEvent
	for _, ev := range p.RecentEvents {
		if ev.EventType != types.EventTestSubmission {
			continue
		}
		if ev.Timestamp.After(windowStart) && !ev.Timestamp.After(ts) {
			subs = append(subs, ev)
		}
	}
	if len(subs) < 2 {
		return
	}
	errors := 0
	for _, ev := range subs {
		if correct, ok := boolField(ev.EventData, "is_correct"); ok && !correct {
			errors++
		}
	}
	if float64(errors)/float64(len(subs)) <= i.cfg.FrustrationErrorRate {
		return
	}
	gap := subs[len(subs)-1].Timestamp.Sub(subs[len(subs)-2].Timestamp)
	if gap >= i.cfg.FrustrationInterval {
		return
	}

	p.EmotionState.FrustrationLevel = profile.Clamp01(p.EmotionState.FrustrationLevel + i.cfg.FrustrationBump)
	p.EmotionState.CurrentSentiment = profile.SentimentFrustrated
	res.FieldUpdates["emotion_state.frustration_level"] = p.EmotionState.FrustrationLevel
	res.FieldUpdates["emotion_state.current_sentiment"] = p.EmotionState.CurrentSentiment
	if !isReplay {
		res.SnapshotRequested = true
	}
}

func (i *Interpreter) pushRecentEvent(event Event, p *profile.StudentProfile, res *Result) {
	p.PushRecentEvent(profile.RecentEvent{
		EventType: event.EventType,
		Timestamp: event.Timestamp,
		EventData: event.EventData,
	})
	res.FieldUpdates["recent_events"] = serializeRecentEvents(p.RecentEvents)
}

func boolField(data map[string]any, key string) (bool, bool) {
	v, ok := data[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func numField(data map[string]any, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func serializeTimestamps(ts []time.Time) []any {
	out := make([]any, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.UTC().Format(time.RFC3339Nano))
	}
	return out
}

func serializeRecentEvents(events []profile.RecentEvent) []any {
	out := make([]any, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]any{
			"event_type": ev.EventType,
			"timestamp":  ev.Timestamp.UTC().Format(time.RFC3339Nano),
			"event_data": ev.EventData,
		})
	}
	return out
}
