package hierarchical

import (
	"context"
	"fmt"

	"github.com/siherrmann/retriever/core/search"
	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
)

// ChunkSearcher runs a reranked, thresholded chunk search
type ChunkSearcher interface {
	Retrieval(ctx context.Context, question string, config model.SearchConfig) (*model.Retrieval, error)
}

var _ ChunkSearcher = (*search.Searcher)(nil)

// ChunkRefiner is the last tier. It runs one hybrid search scoped to the
// knowledge bases and documents left by the tiers before.
type ChunkRefiner struct {
	searcher     ChunkSearcher
	vectorWeight float64
	embeddingDim int
}

// NewChunkRefiner creates a chunk refiner. vectorWeight is the share of vector
// similarity in the hybrid score.
func NewChunkRefiner(searcher ChunkSearcher, vectorWeight float64, embeddingDim int) *ChunkRefiner {
	return &ChunkRefiner{
		searcher:     searcher,
		vectorWeight: vectorWeight,
		embeddingDim: embeddingDim,
	}
}

// Refine returns the topK best chunks above threshold. Nil docIDs search whole knowledge bases.
func (r *ChunkRefiner) Refine(ctx context.Context, query string, tenantIDs []string, kbIDs []string, docIDs []string, topK int, threshold float64) ([]*model.Chunk, error) {
	if r.searcher == nil {
		return nil, helper.NewError("refine chunks", fmt.Errorf("searcher is nil"))
	}
	if topK <= 0 || len(kbIDs) == 0 || len(tenantIDs) == 0 {
		return []*model.Chunk{}, nil
	}

	config := model.DefaultSearchConfig()
	config.Page = 1
	config.Size = topK
	config.TopK = max(config.TopK, topK)
	config.SimilarityThreshold = threshold
	config.VectorSimilarityWeight = r.vectorWeight
	config.TenantIDs = tenantIDs
	config.KbIDs = kbIDs
	config.DocIDs = docIDs
	config.Highlight = true
	config.EmbeddingDim = r.embeddingDim

	ranks, err := r.searcher.Retrieval(ctx, query, config)
	if err != nil {
		return nil, helper.NewError("refine chunks", err)
	}
	return ranks.Chunks, nil
}
