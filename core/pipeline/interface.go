package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/siherrmann/retriever/model"
)

// Embedder encodes text into vectors. Both calls report the number of tokens consumed.
type Embedder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, int, error)
	EncodeQueries(ctx context.Context, text string) ([]float32, int, error)
	Dim() int
	ModelName() string
}

// Message is one turn of a chat conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions are the generation settings of a chat call
type ChatOptions struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// ChatModel generates a completion for a system prompt and a conversation
type ChatModel interface {
	Chat(ctx context.Context, system string, messages []Message, opts ChatOptions) (string, error)
	ModelName() string
}

// ChunkFunc splits text into chunk contents
type ChunkFunc func(ctx context.Context, text string) ([]string, error)

// Pipeline combines chunking and embedding functions
type Pipeline struct {
	Chunker  ChunkFunc
	Embedder Embedder
}

// NewPipeline creates a new processing pipeline
func NewPipeline(chunker ChunkFunc, embedder Embedder) *Pipeline {
	return &Pipeline{
		Chunker:  chunker,
		Embedder: embedder,
	}
}

// ChunkID returns the stable id of a chunk with the given content in a document
func ChunkID(content string, docID string) string {
	sum := md5.Sum([]byte(content + docID))
	return hex.EncodeToString(sum[:])
}

// Process splits the document content into chunks and embeds them in one batch.
// Returned chunks carry content, ids, document linkage and embeddings but no tokens.
func (p *Pipeline) Process(ctx context.Context, doc *model.Document, tenantIndex string) ([]*model.Chunk, error) {
	if p.Chunker == nil || p.Embedder == nil {
		return nil, fmt.Errorf("pipeline needs a chunker and an embedder")
	}

	contents, err := p.Chunker(ctx, doc.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk document: %w", err)
	}
	if len(contents) == 0 {
		return []*model.Chunk{}, nil
	}

	vectors, _, err := p.Embedder.Encode(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(contents) {
		return nil, fmt.Errorf("embedding count mismatch: got %d embeddings for %d chunks", len(vectors), len(contents))
	}

	chunks := make([]*model.Chunk, 0, len(contents))
	for i, content := range contents {
		chunks = append(chunks, &model.Chunk{
			ID:          ChunkID(content, doc.ID),
			TenantIndex: tenantIndex,
			KbID:        doc.KbID,
			DocID:       doc.ID,
			DocName:     doc.Name,
			Content:     content,
			Embedding:   vectors[i],
			Pagerank:    doc.Pagerank,
			Available:   true,
		})
	}

	return chunks, nil
}
