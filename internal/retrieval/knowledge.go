package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/openedtech/tutorcore/internal/logger"
)

// Embedder produces the query vector. The knowledge base itself is
// embedded offline; only queries are embedded at runtime.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// KnowledgeBase holds pre-embedded text chunks and answers
// nearest-neighbor queries by cosine similarity. Chunks and vectors are
// loaded once at startup from kb_chunks.json and kb_vectors.json.
type KnowledgeBase struct {
	embedder Embedder
	chunks   []string
	vectors  [][]float64
	log      *logger.Logger
}

func NewKnowledgeBase(dataDir string, embedder Embedder, log *logger.Logger) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{
		embedder: embedder,
		log:      log.With("service", "KnowledgeBase"),
	}

	if err := loadJSONFile(filepath.Join(dataDir, "kb_chunks.json"), &kb.chunks); err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if err := loadJSONFile(filepath.Join(dataDir, "kb_vectors.json"), &kb.vectors); err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	if len(kb.chunks) != len(kb.vectors) {
		return nil, fmt.Errorf("knowledge base mismatch: %d chunks vs %d vectors", len(kb.chunks), len(kb.vectors))
	}
	kb.log.Info("Knowledge base loaded", "chunks", len(kb.chunks))
	return kb, nil
}

// Retrieve returns the k chunks closest to the query.
func (kb *KnowledgeBase) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	if len(kb.chunks) == 0 || k <= 0 || query == "" {
		return nil, nil
	}
	queryVec, err := kb.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	type scored struct {
		index int
		score float64
	}
	ranked := make([]scored, 0, len(kb.vectors))
	for i, vec := range kb.vectors {
		ranked = append(ranked, scored{index: i, score: cosineSimilarity(queryVec, vec)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]string, 0, k)
	for _, r := range ranked[:k] {
		out = append(out, kb.chunks[r.index])
	}
	return out, nil
}

func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func loadJSONFile(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
