package app

import (
	"context"

	"github.com/openedtech/tutorcore/internal/clients/openai"
	"github.com/openedtech/tutorcore/internal/clients/sandbox"
	"github.com/openedtech/tutorcore/internal/content"
	"github.com/openedtech/tutorcore/internal/orchestrator"
	"github.com/openedtech/tutorcore/internal/prompts"
	"github.com/openedtech/tutorcore/internal/retrieval"
	"github.com/openedtech/tutorcore/internal/sentiment"
	"github.com/openedtech/tutorcore/internal/tasks"
	"github.com/openedtech/tutorcore/internal/types"
)

// WorkerSet is the four queue consumers. Each queue gets its own
// registry so workers only carry the dependencies their tasks need;
// in particular only chat workers hold the LLM pipeline.
type WorkerSet struct {
	workers []*tasks.Worker
}

// BuildWorkers wires one worker per queue named in WORKER_QUEUES. The
// expensive chat pipeline is only constructed when the chat queue is
// actually served by this process.
func (a *App) BuildWorkers() *WorkerSet {
	set := &WorkerSet{}
	for _, queue := range a.Cfg.WorkerQueues {
		switch queue {
		case types.QueueDBWriter:
			reg := tasks.NewRegistry()
			tasks.NewDBWriterHandler(a.EventLog, a.Chats, a.Progress, a.Submissions, a.UserSvc, a.Log).Register(reg)
			set.add(tasks.NewWorker(queue, a.Cfg.DBWriterConcurrency, a.TaskRuns, reg, a.Bus, a.Log))
		case types.QueueBehavior:
			reg := tasks.NewRegistry()
			reg.Register(tasks.TaskInterpretBehavior, tasks.NewBehaviorHandler(a.UserSvc, a.Log))
			set.add(tasks.NewWorker(queue, a.Cfg.BehaviorConcurrency, a.TaskRuns, reg, a.Bus, a.Log))
		case types.QueueChat:
			reg := tasks.NewRegistry()
			loader := content.NewLoader(a.Cfg.DataDir, a.Log)
			reg.Register(tasks.TaskChatRequest, tasks.NewChatHandler(a.buildOrchestrator(loader), a.Log))
			set.add(tasks.NewWorker(queue, a.Cfg.ChatConcurrency, a.TaskRuns, reg, a.Bus, a.Log))
		case types.QueueSubmit:
			reg := tasks.NewRegistry()
			loader := content.NewLoader(a.Cfg.DataDir, a.Log)
			reg.Register(tasks.TaskProcessSubmission,
				tasks.NewSubmissionHandler(sandbox.NewClient(a.Log), loader, a.Writer, a.Bus, a.Log))
			set.add(tasks.NewWorker(queue, a.Cfg.SubmitConcurrency, a.TaskRuns, reg, a.Bus, a.Log))
		default:
			a.Log.Warn("Unknown worker queue in WORKER_QUEUES, skipping", "queue", queue)
		}
	}
	return set
}

func (s *WorkerSet) add(w *tasks.Worker) {
	s.workers = append(s.workers, w)
}

// buildOrchestrator assembles the chat pipeline. A missing LLM key or
// knowledge base degrades the pipeline rather than blocking startup;
// the orchestrator falls back per call.
func (a *App) buildOrchestrator(loader *content.Loader) *orchestrator.Orchestrator {
	var (
		llm       orchestrator.LLMGateway
		retriever orchestrator.Retriever
	)
	client, err := openai.NewClient(a.Log)
	if err != nil {
		a.Log.Warn("LLM client unavailable, chat replies degrade to the apology", "error", err)
	} else {
		llm = client
		kb, err := retrieval.NewKnowledgeBase(a.Cfg.DataDir, client, a.Log)
		if err != nil {
			a.Log.Warn("Knowledge base unavailable, continuing without retrieval", "error", err)
		} else {
			retriever = kb
		}
	}

	return orchestrator.New(
		a.UserSvc,
		a.Store,
		prompts.NewAssembler(a.Log),
		sentiment.NewClassifier(),
		retriever,
		llm,
		loader,
		a.Writer,
		a.Bus,
		orchestrator.Config{
			RetrievalK:       a.Cfg.RetrievalK,
			RetrievalTimeout: a.Cfg.RetrievalTimeout,
			SentimentTimeout: a.Cfg.SentimentTimeout,
			LLMTimeout:       a.Cfg.LLMTimeout,
			SentimentWeight:  a.Cfg.SentimentWeight,
		},
		a.Log,
	)
}

// Start launches every worker's poll loop.
func (s *WorkerSet) Start(ctx context.Context) {
	for _, w := range s.workers {
		w.Start(ctx)
	}
}

// Wait blocks until all poll loops have exited.
func (s *WorkerSet) Wait() {
	for _, w := range s.workers {
		w.Wait()
	}
}
