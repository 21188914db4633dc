package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/openedtech/tutorcore/internal/interpreter"
	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/notify"
	"github.com/openedtech/tutorcore/internal/prompts"
	"github.com/openedtech/tutorcore/internal/repos"
	"github.com/openedtech/tutorcore/internal/statestore"
	"github.com/openedtech/tutorcore/internal/types"
	"github.com/openedtech/tutorcore/internal/userstate"
)

type stubEventLog struct {
	entries []*types.EventLogEntry
}

func (s *stubEventLog) Append(_ context.Context, _ *gorm.DB, e *types.EventLogEntry) (*types.EventLogEntry, error) {
	s.entries = append(s.entries, e)
	return e, nil
}
func (s *stubEventLog) GetByParticipant(context.Context, *gorm.DB, string) ([]*types.EventLogEntry, error) {
	return nil, nil
}
func (s *stubEventLog) GetLatestSnapshot(context.Context, *gorm.DB, string) (*types.EventLogEntry, error) {
	return nil, nil
}
func (s *stubEventLog) GetAfterTimestamp(context.Context, *gorm.DB, string, time.Time) ([]*types.EventLogEntry, error) {
	return nil, nil
}
func (s *stubEventLog) GetCountAfterTimestamp(context.Context, *gorm.DB, string, time.Time) (int64, error) {
	return 0, nil
}
func (s *stubEventLog) GetCountByParticipant(context.Context, *gorm.DB, string) (int64, error) {
	return 0, nil
}

var _ repos.EventLogRepo = (*stubEventLog)(nil)

// captureWriter implements both the lifecycle and orchestrator writer
// interfaces and records everything.
type captureWriter struct {
	events    []string
	chatRows  []ChatRow
	snapshots int
}

func (w *captureWriter) EnqueueEvent(_ context.Context, _, eventType string, _ map[string]any, _ time.Time) error {
	w.events = append(w.events, eventType)
	return nil
}

func (w *captureWriter) EnqueueSnapshot(context.Context, string, map[string]any) error {
	w.snapshots++
	return nil
}

func (w *captureWriter) EnqueueChat(_ context.Context, row ChatRow) error {
	w.chatRows = append(w.chatRows, row)
	return nil
}

type stubClassifier struct {
	label string
	conf  float64
	err   error
}

func (s *stubClassifier) Classify(context.Context, string) (string, float64, error) {
	return s.label, s.conf, s.err
}

type stubRetriever struct {
	chunks []string
	err    error
}

func (s *stubRetriever) Retrieve(context.Context, string, int) ([]string, error) {
	return s.chunks, s.err
}

type stubLLM struct {
	reply string
	err   error
	// captured for assertions
	systemPrompt string
	messages     []prompts.Message
}

func (s *stubLLM) Complete(_ context.Context, systemPrompt string, messages []prompts.Message) (string, error) {
	s.systemPrompt = systemPrompt
	s.messages = messages
	return s.reply, s.err
}

type stubLoader struct {
	content *Content
	err     error
}

func (s *stubLoader) Load(context.Context, string, string) (*Content, error) {
	return s.content, s.err
}

type fixture struct {
	orch   *Orchestrator
	writer *captureWriter
	llm    *stubLLM
	bus    notify.Bus
}

func newFixture(t *testing.T, classifier SentimentClassifier, retriever Retriever, llm *stubLLM, loader ContentLoader) *fixture {
	t.Helper()
	log := logger.NewNop()
	store := statestore.NewMemoryStore(log)
	writer := &captureWriter{}
	userSvc := userstate.NewService(
		store,
		&stubEventLog{},
		interpreter.New(interpreter.DefaultConfig(), log),
		writer,
		userstate.DefaultConfig(),
		log,
	)
	bus := notify.NewMemoryBus(log)
	orch := New(
		userSvc, store, prompts.NewAssembler(log),
		classifier, retriever, llm, loader,
		writer, bus, DefaultConfig(), log,
	)
	return &fixture{orch: orch, writer: writer, llm: llm, bus: bus}
}

func TestGenerateHappyPath(t *testing.T) {
	llm := &stubLLM{reply: "Try checking your loop condition."}
	f := newFixture(t,
		&stubClassifier{label: "frustrated", conf: 0.9},
		&stubRetriever{chunks: []string{"loops run while the condition holds"}},
		llm, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := f.bus.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	resp, err := f.orch.Generate(ctx, Request{
		ParticipantID: "u1",
		UserMessage:   "my loop never stops",
		TaskID:        "task-1",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.AIResponse != "Try checking your loop condition." {
		t.Fatalf("response: %q", resp.AIResponse)
	}

	// Classifier output must shape the prompt built afterwards.
	if !strings.Contains(llm.systemPrompt, "seems frustrated") {
		t.Fatal("sentiment not applied before prompt assembly")
	}
	if !strings.Contains(llm.systemPrompt, "loops run while the condition holds") {
		t.Fatal("retrieved context missing from prompt")
	}
	if len(llm.messages) == 0 || llm.messages[len(llm.messages)-1].Content != "my loop never stops" {
		t.Fatalf("user message missing: %+v", llm.messages)
	}

	// Durability: help-request event plus both chat rows.
	if len(f.writer.events) != 1 || f.writer.events[0] != types.EventAIHelpRequest {
		t.Fatalf("events: %v", f.writer.events)
	}
	if len(f.writer.chatRows) != 2 {
		t.Fatalf("chat rows: %d", len(f.writer.chatRows))
	}
	if f.writer.chatRows[0].Role != types.ChatRoleUser || f.writer.chatRows[1].Role != types.ChatRoleAssistant {
		t.Fatalf("chat roles: %+v", f.writer.chatRows)
	}
	if !strings.Contains(f.writer.chatRows[1].SystemPrompt, "You are 'Alex'") {
		t.Fatal("assistant row must carry the system prompt")
	}

	select {
	case env := <-sub:
		if env.Type != notify.TypeChatResult || env.TaskID != "task-1" {
			t.Fatalf("envelope: %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification published")
	}
}

func TestGenerateLLMOutageReturnsApology(t *testing.T) {
	llm := &stubLLM{err: fmt.Errorf("upstream 503: model overloaded")}
	f := newFixture(t, nil, nil, llm, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := f.bus.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	resp, err := f.orch.Generate(ctx, Request{ParticipantID: "u1", UserMessage: "help", TaskID: "task-2"})
	if err == nil {
		t.Fatal("expected error for server-side logging")
	}
	if resp.AIResponse != Apology {
		t.Fatalf("response: %q", resp.AIResponse)
	}
	if strings.Contains(resp.AIResponse, "503") {
		t.Fatal("upstream error leaked to the user")
	}

	// Chat rows are still written, with the apology as the AI turn.
	if len(f.writer.chatRows) != 2 || f.writer.chatRows[1].Content != Apology {
		t.Fatalf("chat rows: %+v", f.writer.chatRows)
	}

	select {
	case env := <-sub:
		if env.Type != notify.TypeTaskError {
			t.Fatalf("envelope type: %q", env.Type)
		}
		if env.Error == nil || strings.Contains(env.Error.Message, "503") {
			t.Fatalf("error envelope leaks details: %+v", env.Error)
		}
	case <-time.After(time.Second):
		t.Fatal("no error notification published")
	}
}

func TestRetrievalFailureDegradesToEmptyContext(t *testing.T) {
	llm := &stubLLM{reply: "ok"}
	f := newFixture(t, nil, &stubRetriever{err: fmt.Errorf("vector store down")}, llm, nil)

	resp, err := f.orch.Generate(context.Background(), Request{ParticipantID: "u1", UserMessage: "hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.AIResponse != "ok" {
		t.Fatalf("response: %q", resp.AIResponse)
	}
	if !strings.Contains(llm.systemPrompt, "No relevant knowledge was retrieved") {
		t.Fatal("missing empty-retrieval marker")
	}
}

func TestLearningModeStripsTutorOnlyFields(t *testing.T) {
	llm := &stubLLM{reply: "ok"}
	loader := &stubLoader{content: &Content{
		Title: "Loops",
		Data: map[string]any{
			"title":  "Loops",
			"sc_all": "the full sample solution",
		},
	}}
	f := newFixture(t, nil, nil, llm, loader)

	_, err := f.orch.Generate(context.Background(), Request{
		ParticipantID: "u1",
		UserMessage:   "teach me",
		Mode:          prompts.ModeLearning,
		ContentID:     "c1",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.Contains(llm.systemPrompt, "the full sample solution") {
		t.Fatal("tutor-only content leaked into the prompt")
	}
	if !strings.Contains(llm.systemPrompt, "'Loops'") {
		t.Fatal("content title missing from learning block")
	}
}

func TestGenerateValidatesRequest(t *testing.T) {
	f := newFixture(t, nil, nil, &stubLLM{reply: "ok"}, nil)
	resp, err := f.orch.Generate(context.Background(), Request{ParticipantID: "", UserMessage: "hi"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if resp.AIResponse != Apology {
		t.Fatalf("response: %q", resp.AIResponse)
	}
}
