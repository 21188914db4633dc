package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/profile"
)

// basePreamble is the fixed pedagogical persona. The wording is part of
// the prompt contract; change it and the tutor's register changes.
const basePreamble = `You are 'Alex', a world-class AI programming tutor. Your goal is to help a student master a specific topic by providing personalized, empathetic, and insightful guidance. You must respond in Markdown format.

Key principles:
1. Be encouraging and supportive
2. Provide clear, step-by-step explanations
3. Use examples and analogies when helpful
4. Adapt your teaching style based on the student's emotional state
5. Focus on the current learning topic
6. Respond in a conversational, friendly tone`

// affectStrategies is keyed by emotion_state.current_sentiment. The
// four classes are disjoint; unknown sentiments fall back to neutral.
var affectStrategies = map[string]string{
	profile.SentimentFrustrated: "The student seems frustrated. Your top priority is to be encouraging and empathetic. Acknowledge the difficulty before offering help. Use phrases like 'Don't worry, this is a tricky part' or 'Let's try a different approach'.",
	profile.SentimentConfused:   "The student seems confused. Break down concepts into smaller, simpler steps. Use analogies. Provide the simplest possible examples. Avoid jargon.",
	profile.SentimentExcited:    "The student seems excited and engaged. You can introduce more advanced concepts and challenge them with deeper explanations.",
	profile.SentimentNeutral:    "The student seems neutral. Provide clear, structured explanations and check for understanding.",
}

const (
	ModeLearning = "learning"
	ModeTest     = "test"
)

type CodeContent struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
	JS   string `json:"js"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries everything the assembler folds into one prompt.
type Request struct {
	Profile             *profile.StudentProfile
	RetrievedContext    []string
	ConversationHistory []Message
	UserMessage         string
	CodeContent         *CodeContent
	Mode                string
	ContentTitle        string
	ContentJSON         any
	TestResults         any
}

// Assembler builds the system prompt and message list. It is
// deterministic: the same request always yields the same bytes.
type Assembler struct {
	log *logger.Logger
}

func NewAssembler(log *logger.Logger) *Assembler {
	return &Assembler{log: log.With("service", "PromptAssembler")}
}

// Build returns (system_prompt, messages).
func (a *Assembler) Build(req Request) (string, []Message) {
	parts := []string{basePreamble}

	sentiment := profile.SentimentNeutral
	if req.Profile != nil && req.Profile.EmotionState.CurrentSentiment != "" {
		sentiment = strings.ToLower(req.Profile.EmotionState.CurrentSentiment)
	}
	strategy, ok := affectStrategies[sentiment]
	if !ok {
		strategy = affectStrategies[profile.SentimentNeutral]
	}
	parts = append(parts, "STRATEGY: "+strategy)

	parts = append(parts, a.learnerSummary(req.Profile))
	parts = append(parts, referenceKnowledge(req.RetrievedContext))

	if block := a.modeBlock(req); block != "" {
		parts = append(parts, block)
	}

	if req.ContentJSON != nil {
		if pretty, err := prettyJSON(req.ContentJSON); err == nil {
			parts = append(parts, "CONTENT CONTEXT: The full content definition the student is working with:\n\n```json\n"+pretty+"\n```")
		} else {
			a.log.Warn("Could not serialize content context, omitting", "error", err)
		}
	}

	return strings.Join(parts, "\n\n"), a.buildMessages(req)
}

// learnerSummary renders the cognitive and behavioral state for the
// model: per-topic mastery tiers, window metrics, and content-tree
// exploration. Brand-new learners get a marker instead.
func (a *Assembler) learnerSummary(p *profile.StudentProfile) string {
	if p == nil || p.IsNewUser {
		return "STUDENT INFO: This is a new student. Start with basic concepts and be extra patient."
	}

	var b strings.Builder
	b.WriteString("STUDENT INFO: This is an existing student. Build upon previous knowledge.")

	if len(p.BKTModel) > 0 {
		b.WriteString("\nTopic mastery:")
		topics := make([]string, 0, len(p.BKTModel))
		for topic := range p.BKTModel {
			topics = append(topics, topic)
		}
		sort.Strings(topics)
		for _, topic := range topics {
			b.WriteString(fmt.Sprintf("\n- %s: %s", topic, masteryTier(p.BKTModel[topic].MasteryProb)))
		}
	}

	b.WriteString(fmt.Sprintf(
		"\nRecent behavior: error frequency %.2f, help-seeking tendency %.2f, learning velocity %.2f.",
		p.BehaviorPatterns.ErrorFrequency,
		p.BehaviorPatterns.HelpSeekingTendency,
		p.BehaviorPatterns.LearningVelocity,
	))

	if len(p.KnowledgeLevelHistory) > 0 {
		b.WriteString("\nKnowledge-level exploration (level | visits | total ms):")
		levels := make([]string, 0, len(p.KnowledgeLevelHistory))
		for level := range p.KnowledgeLevelHistory {
			levels = append(levels, level)
		}
		sort.Strings(levels)
		for _, level := range levels {
			st := p.KnowledgeLevelHistory[level]
			b.WriteString(fmt.Sprintf("\n- %s | %d | %d", level, st.Visits, st.TotalDurationMS))
		}
	}
	return b.String()
}

func masteryTier(mastery float64) string {
	switch {
	case mastery > 0.8:
		return "advanced"
	case mastery > 0.5:
		return "intermediate"
	default:
		return "beginner"
	}
}

func referenceKnowledge(retrieved []string) string {
	if len(retrieved) == 0 {
		return "REFERENCE KNOWLEDGE: No relevant knowledge was retrieved for this question. Answer from general expertise and say so if unsure."
	}
	return "REFERENCE KNOWLEDGE: Use the following information from the knowledge base to answer the user's question accurately.\n\n" +
		strings.Join(retrieved, "\n\n---\n\n")
}

// modeBlock renders the test-coaching or learning block. In test mode
// the amount of help graduates with how often the student has already
// asked about this content.
func (a *Assembler) modeBlock(req Request) string {
	switch req.Mode {
	case ModeTest:
		return a.testBlock(req)
	case ModeLearning:
		block := "LEARNING MODE: The student is studying new material. Provide detailed explanations with worked examples."
		if req.ContentTitle != "" {
			block += fmt.Sprintf(" The current learning topic is '%s'. Focus your explanations on this specific topic.", req.ContentTitle)
		}
		return block
	default:
		return ""
	}
}

func (a *Assembler) testBlock(req Request) string {
	questionCount := 0
	if req.Profile != nil && req.ContentTitle != "" {
		questionCount = req.Profile.BehaviorPatterns.Counters["question_count_"+req.ContentTitle]
	}

	var b strings.Builder
	b.WriteString("TEST MODE: The student is debugging a test task")
	if req.ContentTitle != "" {
		b.WriteString(fmt.Sprintf(" ('%s')", req.ContentTitle))
	}
	b.WriteString(fmt.Sprintf(". They have asked about it %d time(s) so far.\n", questionCount))

	switch {
	case questionCount <= 1:
		b.WriteString("COACHING LEVEL: Use the Socratic method. Ask guiding questions and give hints that point toward the bug. Do NOT reveal the solution or write the corrected code.")
	case questionCount <= 3:
		b.WriteString("COACHING LEVEL: Give concrete hints. Name the part of the code where the bug lives and explain the relevant concept, but let the student write the fix themselves.")
	default:
		b.WriteString("COACHING LEVEL: The student has struggled repeatedly. Explain the bug directly and show the corrected code with a clear explanation of why it works.")
	}

	if req.CodeContent != nil && strings.TrimSpace(req.CodeContent.JS) != "" {
		b.WriteString("\n\nThe student's current JavaScript code:\n```javascript\n")
		b.WriteString(req.CodeContent.JS)
		b.WriteString("\n```")
	}
	if req.TestResults != nil {
		if pretty, err := prettyJSON(req.TestResults); err == nil {
			b.WriteString("\n\nTest results (error context):\n```json\n")
			b.WriteString(pretty)
			b.WriteString("\n```")
		} else {
			a.log.Warn("Could not serialize test results, omitting", "error", err)
		}
	}
	return b.String()
}

func (a *Assembler) buildMessages(req Request) []Message {
	messages := make([]Message, 0, len(req.ConversationHistory)+1)
	for _, msg := range req.ConversationHistory {
		if msg.Role == "" || msg.Content == "" {
			continue
		}
		messages = append(messages, msg)
	}

	content := req.UserMessage
	if req.CodeContent != nil {
		if code := formatCodeContext(req.CodeContent); code != "" {
			content = code + "\n\nMy question is: " + req.UserMessage
		}
	}
	if strings.TrimSpace(content) != "" {
		messages = append(messages, Message{Role: "user", Content: content})
	}
	return messages
}

// formatCodeContext renders the non-empty code sections; an all-empty
// context yields "" and the plain question is sent instead.
func formatCodeContext(code *CodeContent) string {
	var parts []string
	if strings.TrimSpace(code.HTML) != "" {
		parts = append(parts, "HTML Code:\n```html\n"+code.HTML+"\n```")
	}
	if strings.TrimSpace(code.CSS) != "" {
		parts = append(parts, "CSS Code:\n```css\n"+code.CSS+"\n```")
	}
	if strings.TrimSpace(code.JS) != "" {
		parts = append(parts, "JavaScript Code:\n```javascript\n"+code.JS+"\n```")
	}
	if len(parts) == 0 {
		return ""
	}
	return "Here is my current code:\n\n" + strings.Join(parts, "\n\n")
}

// prettyJSON indents without escaping non-ASCII or HTML characters, so
// content authored in any language survives verbatim.
func prettyJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
