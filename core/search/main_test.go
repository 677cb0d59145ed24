package search

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/siherrmann/retriever/core/pipeline"
	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
)

// fakeStore answers searches from a scripted list of results and records every request.
type fakeStore struct {
	mu       sync.Mutex
	results  []*model.StoreResult
	requests []*model.SearchRequest
	err      error
}

func (f *fakeStore) Search(ctx context.Context, req *model.SearchRequest) (*model.StoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return &model.StoreResult{}, nil
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res, nil
}

func (f *fakeStore) Get(ctx context.Context, id string, index string, kbIDs []string) (*model.Chunk, error) {
	return nil, nil
}

func (f *fakeStore) Update(ctx context.Context, condition model.Condition, changes model.ChunkChanges, index string, kbID string) (bool, error) {
	return true, nil
}

func (f *fakeStore) Delete(ctx context.Context, condition model.Condition, index string, kbID string) (int64, error) {
	return 0, nil
}

func testLogger() *slog.Logger {
	return helper.NewLogger(io.Discard, slog.LevelDebug)
}

// newTestChunk embeds content with the hash embedder and fills its tokens
func newTestChunk(id string, docID string, content string, embedder pipeline.Embedder) *model.Chunk {
	vector, _, _ := embedder.EncodeQueries(context.Background(), content)
	chunk := &model.Chunk{
		ID:        id,
		KbID:      "kb-1",
		DocID:     docID,
		DocName:   docID,
		Content:   content,
		Embedding: vector,
		Available: true,
	}
	NewTokenizer().TokenizeChunk(chunk)
	return chunk
}
