package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/openedtech/tutorcore/internal/logger"
)

type stubEmbedder struct {
	vec []float64
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	return s.vec, s.err
}

func writeKB(t *testing.T, chunks []string, vectors [][]float64) string {
	t.Helper()
	dir := t.TempDir()
	for name, v := range map[string]any{"kb_chunks.json": chunks, "kb_vectors.json": vectors} {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %s: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestRetrieveRanksByCosineSimilarity(t *testing.T) {
	dir := writeKB(t,
		[]string{"loops", "variables", "functions"},
		[][]float64{{1, 0}, {0, 1}, {0.9, 0.1}})
	kb, err := NewKnowledgeBase(dir, &stubEmbedder{vec: []float64{1, 0}}, logger.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got, err := kb.Retrieve(context.Background(), "how do loops work", 2)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 2 || got[0] != "loops" || got[1] != "functions" {
		t.Fatalf("got %v", got)
	}
}

func TestRetrieveKLargerThanCorpus(t *testing.T) {
	dir := writeKB(t, []string{"only"}, [][]float64{{1, 0}})
	kb, err := NewKnowledgeBase(dir, &stubEmbedder{vec: []float64{1, 0}}, logger.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := kb.Retrieve(context.Background(), "anything", 20)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 || got[0] != "only" {
		t.Fatalf("got %v", got)
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	dir := writeKB(t, []string{"a"}, [][]float64{{1}})
	kb, err := NewKnowledgeBase(dir, &stubEmbedder{vec: []float64{1}}, logger.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := kb.Retrieve(context.Background(), "", 5)
	if err != nil || got != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", got, err)
	}
}

func TestRetrieveEmbedderFailurePropagates(t *testing.T) {
	dir := writeKB(t, []string{"a"}, [][]float64{{1}})
	kb, err := NewKnowledgeBase(dir, &stubEmbedder{err: fmt.Errorf("api down")}, logger.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := kb.Retrieve(context.Background(), "query", 5); err == nil {
		t.Fatal("expected embedder error to propagate")
	}
}

func TestNewRejectsMismatchedCorpus(t *testing.T) {
	dir := writeKB(t, []string{"a", "b"}, [][]float64{{1}})
	if _, err := NewKnowledgeBase(dir, &stubEmbedder{}, logger.NewNop()); err == nil {
		t.Fatal("expected mismatch error")
	}
}
