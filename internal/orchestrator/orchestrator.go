package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/openedtech/tutorcore/internal/interpreter"
	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/notify"
	"github.com/openedtech/tutorcore/internal/profile"
	"github.com/openedtech/tutorcore/internal/prompts"
	"github.com/openedtech/tutorcore/internal/types"
	"github.com/openedtech/tutorcore/internal/userstate"
)

// Apology is the single user-facing fallback for any internal failure.
// It must never be replaced with upstream error text.
const Apology = "I apologize, but I'm having trouble generating a response right now. Please try again in a moment."

// SentimentClassifier scores one user message. A nil classifier means
// sentiment analysis is disabled and (neutral, 0.0) is assumed.
type SentimentClassifier interface {
	Classify(ctx context.Context, text string) (label string, confidence float64, err error)
}

// Retriever fetches knowledge-base chunks relevant to the query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// LLMGateway produces the tutor's reply.
type LLMGateway interface {
	Complete(ctx context.Context, systemPrompt string, messages []prompts.Message) (string, error)
}

// Content is one learning or test task definition.
type Content struct {
	Title string
	Data  map[string]any
}

type ContentLoader interface {
	Load(ctx context.Context, mode, contentID string) (*Content, error)
}

// ChatRow is one durable chat-history record. The assistant row carries
// the full system prompt for reproducibility.
type ChatRow struct {
	ParticipantID string
	Role          string
	Content       string
	SystemPrompt  string
	ContentID     string
}

// Writer is the db_writer side the orchestrator needs.
type Writer interface {
	EnqueueChat(ctx context.Context, row ChatRow) error
}

type Request struct {
	ParticipantID       string
	UserMessage         string
	ConversationHistory []prompts.Message
	CodeContext         *prompts.CodeContent
	Mode                string
	ContentID           string
	TestResults         any
	TaskID              string
}

type Response struct {
	AIResponse   string `json:"ai_response"`
	SystemPrompt string `json:"-"`
}

type Config struct {
	RetrievalK       int
	RetrievalTimeout time.Duration
	SentimentTimeout time.Duration
	LLMTimeout       time.Duration
	SentimentWeight  float64
}

func DefaultConfig() Config {
	return Config{
		RetrievalK:       20,
		RetrievalTimeout: 60 * time.Second,
		SentimentTimeout: 30 * time.Second,
		LLMTimeout:       120 * time.Second,
		SentimentWeight:  0.3,
	}
}

// tutorOnlyFields are stripped from learning content before it reaches
// the prompt, so sample solutions never leak to the student.
var tutorOnlyFields = []string{"sc_all"}

// Orchestrator runs the adaptive-response pipeline: state, sentiment,
// retrieval, content, prompt, LLM, durability, notify. External
// failures degrade to defaults; the learner always gets an answer or
// the constant apology.
type Orchestrator struct {
	userSvc    *userstate.Service
	store      userstate.Store
	assembler  *prompts.Assembler
	classifier SentimentClassifier
	retriever  Retriever
	llm        LLMGateway
	loader     ContentLoader
	writer     Writer
	bus        notify.Bus
	cfg        Config
	log        *logger.Logger
}

func New(
	userSvc *userstate.Service,
	store userstate.Store,
	assembler *prompts.Assembler,
	classifier SentimentClassifier,
	retriever Retriever,
	llm LLMGateway,
	loader ContentLoader,
	writer Writer,
	bus notify.Bus,
	cfg Config,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		userSvc:    userSvc,
		store:      store,
		assembler:  assembler,
		classifier: classifier,
		retriever:  retriever,
		llm:        llm,
		loader:     loader,
		writer:     writer,
		bus:        bus,
		cfg:        cfg,
		log:        log.With("service", "AdaptiveOrchestrator"),
	}
}

// Generate runs the full pipeline. The returned response is always
// usable; a non-nil error means the apology path was taken and carries
// the cause for server-side logging only.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.ParticipantID == "" || req.UserMessage == "" {
		err := fmt.Errorf("participant_id and user_message required")
		o.publish(ctx, req, Apology, err)
		return &Response{AIResponse: Apology}, err
	}

	p, _, err := o.userSvc.GetOrCreateProfile(ctx, req.ParticipantID)
	if err != nil {
		err = fmt.Errorf("load profile: %w", err)
		o.publish(ctx, req, Apology, err)
		return &Response{AIResponse: Apology}, err
	}

	o.applySentiment(ctx, req, p)
	retrieved := o.retrieve(ctx, req.UserMessage)
	content := o.loadContent(ctx, req)

	promptReq := prompts.Request{
		Profile:             p,
		RetrievedContext:    retrieved,
		ConversationHistory: req.ConversationHistory,
		UserMessage:         req.UserMessage,
		CodeContent:         req.CodeContext,
		Mode:                req.Mode,
		TestResults:         req.TestResults,
	}
	if content != nil {
		promptReq.ContentTitle = content.Title
		promptReq.ContentJSON = content.Data
	}
	systemPrompt, messages := o.assembler.Build(promptReq)

	aiResponse, llmErr := o.complete(ctx, systemPrompt, messages)
	if llmErr != nil {
		o.log.Warn("LLM call failed, returning apology", "participant_id", req.ParticipantID, "error", llmErr)
		aiResponse = Apology
	}

	o.persist(ctx, req, content, systemPrompt, aiResponse)
	o.publish(ctx, req, aiResponse, llmErr)

	resp := &Response{AIResponse: aiResponse, SystemPrompt: systemPrompt}
	if llmErr != nil {
		return resp, fmt.Errorf("llm completion: %w", llmErr)
	}
	return resp, nil
}

// applySentiment classifies the message and folds the observation into
// emotion_state. Classifier failures degrade to (neutral, 0.0).
func (o *Orchestrator) applySentiment(ctx context.Context, req Request, p *profile.StudentProfile) {
	label, confidence := profile.SentimentNeutral, 0.0
	if o.classifier != nil {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.SentimentTimeout)
		defer cancel()
		l, c, err := o.classifier.Classify(cctx, req.UserMessage)
		if err != nil {
			o.log.Warn("Sentiment classification failed, assuming neutral",
				"participant_id", req.ParticipantID, "error", err)
		} else {
			label, confidence = l, c
		}
	}
	updates := interpreter.ApplySentiment(p, label, confidence, o.cfg.SentimentWeight)
	if err := o.store.SetFields(ctx, req.ParticipantID, updates); err != nil {
		o.log.Error("Could not persist sentiment update", "participant_id", req.ParticipantID, "error", err)
	}
}

func (o *Orchestrator) retrieve(ctx context.Context, query string) []string {
	if o.retriever == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
	defer cancel()
	chunks, err := o.retriever.Retrieve(rctx, query, o.cfg.RetrievalK)
	if err != nil {
		o.log.Warn("Retrieval failed, continuing without context", "error", err)
		return nil
	}
	return chunks
}

func (o *Orchestrator) loadContent(ctx context.Context, req Request) *Content {
	if o.loader == nil || req.Mode == "" || req.ContentID == "" {
		return nil
	}
	content, err := o.loader.Load(ctx, req.Mode, req.ContentID)
	if err != nil {
		o.log.Warn("Content load failed, continuing without content",
			"mode", req.Mode, "content_id", req.ContentID, "error", err)
		return nil
	}
	if content != nil && req.Mode == prompts.ModeLearning && content.Data != nil {
		for _, field := range tutorOnlyFields {
			delete(content.Data, field)
		}
	}
	return content
}

func (o *Orchestrator) complete(ctx context.Context, systemPrompt string, messages []prompts.Message) (string, error) {
	if o.llm == nil {
		return "", fmt.Errorf("llm gateway not configured")
	}
	lctx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
	defer cancel()
	return o.llm.Complete(lctx, systemPrompt, messages)
}

// persist records the exchange: the help-request event goes through the
// lifecycle service so live interpretation matches what replay will see
// in the log, and both chat rows land via db_writer. Failures here are
// logged but do not affect the response.
func (o *Orchestrator) persist(ctx context.Context, req Request, content *Content, systemPrompt, aiResponse string) {
	eventData := map[string]any{"message_length": len(req.UserMessage)}
	if content != nil {
		eventData["content_title"] = content.Title
	}
	if err := o.userSvc.HandleEvent(ctx, interpreter.Event{
		ParticipantID: req.ParticipantID,
		EventType:     types.EventAIHelpRequest,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}); err != nil {
		o.log.Error("Could not record help-request event", "participant_id", req.ParticipantID, "error", err)
	}

	if err := o.writer.EnqueueChat(ctx, ChatRow{
		ParticipantID: req.ParticipantID,
		Role:          types.ChatRoleUser,
		Content:       req.UserMessage,
		ContentID:     req.ContentID,
	}); err != nil {
		o.log.Error("Could not enqueue user chat row", "participant_id", req.ParticipantID, "error", err)
	}
	if err := o.writer.EnqueueChat(ctx, ChatRow{
		ParticipantID: req.ParticipantID,
		Role:          types.ChatRoleAssistant,
		Content:       aiResponse,
		SystemPrompt:  systemPrompt,
		ContentID:     req.ContentID,
	}); err != nil {
		o.log.Error("Could not enqueue assistant chat row", "participant_id", req.ParticipantID, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, req Request, aiResponse string, llmErr error) {
	if o.bus == nil || req.ParticipantID == "" {
		return
	}
	var env notify.Envelope
	if llmErr != nil {
		env = notify.NewError(req.TaskID, "external_unavailable", Apology)
	} else {
		env = notify.NewResult(notify.TypeChatResult, req.TaskID, aiResponse)
	}
	if err := o.bus.Publish(ctx, req.ParticipantID, env); err != nil {
		o.log.Warn("Could not publish chat result", "participant_id", req.ParticipantID, "error", err)
	}
}
