package raptor

import (
	"testing"

	"github.com/siherrmann/retriever/core/pipeline"
	"github.com/siherrmann/retriever/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeavesFromChunks(t *testing.T) {
	chunks := []*model.Chunk{
		{ID: "c1", Content: "one", Embedding: []float32{1, 0}},
		{ID: "c2", Content: "two", Embedding: []float32{0, 1}},
	}

	leaves := LeavesFromChunks(chunks)

	assert.Equal(t, []model.ClusterNode{
		{Text: "one", Embedding: []float32{1, 0}},
		{Text: "two", Embedding: []float32{0, 1}},
	}, leaves)
}

func TestToChunks(t *testing.T) {
	doc := &model.Document{ID: "doc1", KbID: "kb1", Name: "Annual Report", Pagerank: 5}
	tree := &model.ClusterTree{
		Nodes: []model.ClusterNode{
			{Text: "leaf one", Embedding: []float32{1, 0}},
			{Text: "leaf two", Embedding: []float32{0, 1}},
			{Text: "summary of revenue", Embedding: []float32{0.7, 0.7}},
		},
		Layers: []model.Layer{{Start: 0, End: 2}, {Start: 2, End: 3}},
	}

	t.Run("Only summaries become chunks", func(t *testing.T) {
		chunks := ToChunks(tree, 2, doc, "ragflow_t1")

		require.Len(t, chunks, 1)
		chunk := chunks[0]
		assert.Equal(t, pipeline.ChunkID("summary of revenue", "doc1"), chunk.ID)
		assert.Equal(t, "ragflow_t1", chunk.TenantIndex)
		assert.Equal(t, "kb1", chunk.KbID)
		assert.Equal(t, "doc1", chunk.DocID)
		assert.Equal(t, "Annual Report", chunk.DocName)
		assert.Equal(t, []float32{0.7, 0.7}, chunk.Embedding)
		assert.Equal(t, 5.0, chunk.Pagerank)
		assert.True(t, chunk.Available)
		assert.Contains(t, chunk.ContentTokens, "revenue")
		assert.Contains(t, chunk.TitleTokens, "annual")
	})

	t.Run("Tree without summaries", func(t *testing.T) {
		assert.Empty(t, ToChunks(tree, 3, doc, "ragflow_t1"))
		assert.Empty(t, ToChunks(&model.ClusterTree{}, 0, doc, "ragflow_t1"))
	})
}
