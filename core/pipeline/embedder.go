package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/siherrmann/retriever/helper"
)

// DefaultEmbeddingModel produces 384-dimensional sentence embeddings
const DefaultEmbeddingModel = "sentence-transformers/all-MiniLM-L6-v2"

// HugotEmbedder runs a sentence transformer locally with the pure Go hugot backend.
type HugotEmbedder struct {
	modelName string
	dim       int
	counter   TokenCounter
	destroy   func() error

	mu  sync.Mutex
	run func(texts []string) ([][]float32, error)
}

// DefaultEmbedder creates an embedder with the all-MiniLM-L6-v2 model, downloading it if needed
func DefaultEmbedder() (*HugotEmbedder, error) {
	return NewHugotEmbedder(helper.DefaultModelDir, DefaultEmbeddingModel, DefaultTokenCounter())
}

// NewHugotEmbedder loads modelName from modelDir and probes its dimension.
// counter only reports token usage.
func NewHugotEmbedder(modelDir string, modelName string, counter TokenCounter) (*HugotEmbedder, error) {
	modelPath, err := helper.PrepareModel(modelDir, modelName, "")
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-pipeline",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create sentence pipeline: %w", err)
	}

	embedder := &HugotEmbedder{
		modelName: modelName,
		counter:   counter,
		destroy:   session.Destroy,
		run: func(texts []string) ([][]float32, error) {
			result, err := sentencePipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return result.Embeddings, nil
		},
	}

	probe, err := embedder.run([]string{"dimension probe"})
	if err != nil || len(probe) == 0 {
		_ = session.Destroy()
		return nil, fmt.Errorf("failed to probe embedding dimension: %v", err)
	}
	embedder.dim = len(probe[0])

	return embedder, nil
}

// Encode embeds a batch of texts
func (e *HugotEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if len(texts) == 0 {
		return [][]float32{}, 0, nil
	}

	e.mu.Lock()
	vectors, err := e.run(texts)
	e.mu.Unlock()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, 0, fmt.Errorf("embedding count mismatch: got %d embeddings for %d texts", len(vectors), len(texts))
	}

	tokens := 0
	if e.counter != nil {
		for _, text := range texts {
			tokens += e.counter.Count(text)
		}
	}

	return vectors, tokens, nil
}

// EncodeQueries embeds a single query
func (e *HugotEmbedder) EncodeQueries(ctx context.Context, text string) ([]float32, int, error) {
	vectors, tokens, err := e.Encode(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	return vectors[0], tokens, nil
}

// Dim returns the embedding dimension
func (e *HugotEmbedder) Dim() int {
	return e.dim
}

// ModelName returns the model the embedder was loaded from
func (e *HugotEmbedder) ModelName() string {
	return e.modelName
}

// Close releases the hugot session
func (e *HugotEmbedder) Close() error {
	if e.destroy == nil {
		return nil
	}
	return e.destroy()
}

// HashEmbedder maps texts to normalized bags of hashed words. It needs no model
// and keeps texts with shared words close, which makes it usable offline.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a HashEmbedder producing vectors of length dim
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim}
}

// Encode embeds a batch of texts
func (e *HashEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if e.dim <= 0 {
		return nil, 0, fmt.Errorf("embedding dimension must be positive")
	}

	vectors := make([][]float32, len(texts))
	tokens := 0
	for i, text := range texts {
		vector := make([]float32, e.dim)
		words := strings.Fields(strings.ToLower(text))
		tokens += len(words)
		for _, word := range words {
			h := fnv.New32a()
			_, _ = h.Write([]byte(strings.Trim(word, ".,;:!?\"'()")))
			vector[h.Sum32()%uint32(e.dim)] += 1
		}

		var norm float64
		for _, v := range vector {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for j := range vector {
				vector[j] *= scale
			}
		}
		vectors[i] = vector
	}

	return vectors, tokens, nil
}

// EncodeQueries embeds a single query
func (e *HashEmbedder) EncodeQueries(ctx context.Context, text string) ([]float32, int, error) {
	vectors, tokens, err := e.Encode(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	return vectors[0], tokens, nil
}

// Dim returns the embedding dimension
func (e *HashEmbedder) Dim() int {
	return e.dim
}

// ModelName returns "hash"
func (e *HashEmbedder) ModelName() string {
	return "hash"
}
