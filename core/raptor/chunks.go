package raptor

import (
	"time"

	"github.com/siherrmann/retriever/core/pipeline"
	"github.com/siherrmann/retriever/core/search"
	"github.com/siherrmann/retriever/model"
)

// LeavesFromChunks returns the cluster nodes of stored chunks in order
func LeavesFromChunks(chunks []*model.Chunk) []model.ClusterNode {
	leaves := make([]model.ClusterNode, 0, len(chunks))
	for _, chunk := range chunks {
		leaves = append(leaves, model.ClusterNode{Text: chunk.Content, Embedding: chunk.Embedding})
	}
	return leaves
}

// ToChunks turns the summaries of tree into indexable chunks of doc.
// leaves is the number of leaf nodes at the start of tree.Nodes.
func ToChunks(tree *model.ClusterTree, leaves int, doc *model.Document, tenantIndex string) []*model.Chunk {
	summaries := tree.Synthesized(leaves)
	tokenizer := search.NewTokenizer()
	now := time.Now()

	chunks := make([]*model.Chunk, 0, len(summaries))
	for _, node := range summaries {
		chunk := &model.Chunk{
			ID:          pipeline.ChunkID(node.Text, doc.ID),
			TenantIndex: tenantIndex,
			KbID:        doc.KbID,
			DocID:       doc.ID,
			DocName:     doc.Name,
			Content:     node.Text,
			Embedding:   node.Embedding,
			Pagerank:    doc.Pagerank,
			Available:   true,
			CreatedAt:   now,
		}
		tokenizer.TokenizeChunk(chunk)
		chunks = append(chunks, chunk)
	}
	return chunks
}
