package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/siherrmann/retriever/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingEmbedder struct {
	*HashEmbedder
	err   error
	count int
}

func (e *failingEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, int, error) {
	if e.err != nil {
		return nil, 0, e.err
	}
	vectors, tokens, err := e.HashEmbedder.Encode(ctx, texts)
	if err != nil {
		return nil, 0, err
	}
	if e.count > 0 && e.count < len(vectors) {
		vectors = vectors[:e.count]
	}
	return vectors, tokens, nil
}

func TestNewPipeline(t *testing.T) {
	t.Run("Create new pipeline", func(t *testing.T) {
		p := NewPipeline(ParagraphChunker(), NewHashEmbedder(8))

		assert.NotNil(t, p.Chunker)
		assert.NotNil(t, p.Embedder)
	})

	t.Run("Create pipeline with nil functions", func(t *testing.T) {
		p := NewPipeline(nil, nil)

		_, err := p.Process(context.Background(), &model.Document{Content: "x"}, "ragflow_t")
		assert.Error(t, err)
	})
}

func TestPipelineProcess(t *testing.T) {
	ctx := context.Background()
	doc := &model.Document{ID: "doc-1", KbID: "kb-1", Name: "handbook", Pagerank: 3}

	t.Run("Process text successfully", func(t *testing.T) {
		doc.Content = "First paragraph.\n\nSecond paragraph."
		p := NewPipeline(ParagraphChunker(), NewHashEmbedder(8))

		chunks, err := p.Process(ctx, doc, "ragflow_t1")

		require.NoError(t, err)
		require.Len(t, chunks, 2)
		for i, content := range []string{"First paragraph.", "Second paragraph."} {
			assert.Equal(t, content, chunks[i].Content)
			assert.Equal(t, ChunkID(content, "doc-1"), chunks[i].ID)
			assert.Equal(t, "ragflow_t1", chunks[i].TenantIndex)
			assert.Equal(t, "kb-1", chunks[i].KbID)
			assert.Equal(t, "doc-1", chunks[i].DocID)
			assert.Equal(t, "handbook", chunks[i].DocName)
			assert.Equal(t, 3.0, chunks[i].Pagerank)
			assert.True(t, chunks[i].Available)
			assert.Len(t, chunks[i].Embedding, 8)
		}
	})

	t.Run("Process with empty text", func(t *testing.T) {
		doc.Content = ""
		chunks, err := NewPipeline(ParagraphChunker(), NewHashEmbedder(8)).Process(ctx, doc, "ragflow_t1")

		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Process with embedding error", func(t *testing.T) {
		doc.Content = "Some text."
		embedder := &failingEmbedder{HashEmbedder: NewHashEmbedder(8), err: errors.New("model offline")}

		_, err := NewPipeline(ParagraphChunker(), embedder).Process(ctx, doc, "ragflow_t1")

		assert.ErrorContains(t, err, "model offline")
	})

	t.Run("Process with embedder returning different count", func(t *testing.T) {
		doc.Content = "One.\n\nTwo.\n\nThree."
		embedder := &failingEmbedder{HashEmbedder: NewHashEmbedder(8), count: 1}

		_, err := NewPipeline(ParagraphChunker(), embedder).Process(ctx, doc, "ragflow_t1")

		assert.ErrorContains(t, err, "mismatch")
	})

	t.Run("Process with chunker error", func(t *testing.T) {
		doc.Content = "Some text."
		chunker := func(ctx context.Context, text string) ([]string, error) {
			return nil, errors.New("bad input")
		}

		_, err := NewPipeline(chunker, NewHashEmbedder(8)).Process(ctx, doc, "ragflow_t1")

		assert.ErrorContains(t, err, "bad input")
	})
}

func TestChunkID(t *testing.T) {
	t.Run("Stable and document scoped", func(t *testing.T) {
		assert.Equal(t, ChunkID("a", "doc"), ChunkID("a", "doc"))
		assert.NotEqual(t, ChunkID("a", "doc"), ChunkID("a", "other"))
		assert.Len(t, ChunkID("a", "doc"), 32)
	})
}
