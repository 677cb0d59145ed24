package hierarchical

import (
	"context"
	"io"
	"log/slog"

	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
)

func testLogger() *slog.Logger {
	return helper.NewLogger(io.Discard, slog.LevelDebug)
}

type fakeKBSource struct {
	kbs   []*model.KnowledgeBase
	err   error
	calls int
}

func (f *fakeKBSource) SelectKnowledgeBases(ctx context.Context, tenantID string, ids []string) ([]*model.KnowledgeBase, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := []*model.KnowledgeBase{}
	// Reverse order to check that the retriever restores input order.
	for i := len(f.kbs) - 1; i >= 0; i-- {
		if want[f.kbs[i].ID] {
			out = append(out, f.kbs[i])
		}
	}
	return out, nil
}

type fakeDocSource struct {
	docs  []*model.Document
	err   error
	kbIDs []string
}

func (f *fakeDocSource) SelectDocumentsByKnowledgeBases(ctx context.Context, kbIDs []string, limit int) ([]*model.Document, error) {
	f.kbIDs = kbIDs
	if f.err != nil {
		return nil, f.err
	}
	want := map[string]bool{}
	for _, id := range kbIDs {
		want[id] = true
	}
	out := []*model.Document{}
	for _, doc := range f.docs {
		if want[doc.KbID] && len(out) < limit {
			out = append(out, doc)
		}
	}
	return out, nil
}

type fakeSearcher struct {
	chunks  []*model.Chunk
	err     error
	configs []model.SearchConfig
}

func (f *fakeSearcher) Retrieval(ctx context.Context, question string, config model.SearchConfig) (*model.Retrieval, error) {
	f.configs = append(f.configs, config)
	if f.err != nil {
		return nil, f.err
	}
	chunks := f.chunks
	if len(chunks) > config.Size {
		chunks = chunks[:config.Size]
	}
	return &model.Retrieval{Total: len(chunks), Chunks: chunks}, nil
}
