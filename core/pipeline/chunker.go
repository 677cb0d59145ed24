package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// splitSentences splits text at sentence terminators followed by a space
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "! ", "!|")
	text = strings.ReplaceAll(text, "? ", "?|")
	text = strings.ReplaceAll(text, ". ", ".|")
	text = strings.ReplaceAll(text, "\n", "|")

	var sentences []string
	for _, s := range strings.Split(text, "|") {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// SentenceChunker creates a chunker that groups a fixed number of sentences
func SentenceChunker(maxSentencesPerChunk int) ChunkFunc {
	return func(ctx context.Context, text string) ([]string, error) {
		if maxSentencesPerChunk <= 0 {
			return nil, fmt.Errorf("max sentences per chunk must be positive")
		}

		sentences := splitSentences(text)
		chunks := []string{}
		for start := 0; start < len(sentences); start += maxSentencesPerChunk {
			end := min(start+maxSentencesPerChunk, len(sentences))
			chunks = append(chunks, strings.Join(sentences[start:end], " "))
		}

		return chunks, nil
	}
}

// ParagraphChunker creates a chunker that splits by blank lines
func ParagraphChunker() ChunkFunc {
	return func(ctx context.Context, text string) ([]string, error) {
		chunks := []string{}
		for _, para := range strings.Split(text, "\n\n") {
			para = strings.TrimSpace(para)
			if para != "" {
				chunks = append(chunks, para)
			}
		}
		return chunks, nil
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Vectors of different length or zero norm have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SemanticChunker groups sentences while they stay similar to the running chunk.
// A new chunk starts when similarity drops below the threshold or maxChunkSize characters would be exceeded.
func SemanticChunker(embedder Embedder, maxChunkSize int, similarityThreshold float64) ChunkFunc {
	return func(ctx context.Context, text string) ([]string, error) {
		if maxChunkSize <= 0 {
			return nil, fmt.Errorf("max chunk size must be positive")
		}

		sentences := splitSentences(text)
		if len(sentences) == 0 {
			return []string{}, nil
		}

		embeddings, _, err := embedder.Encode(ctx, sentences)
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(embeddings) != len(sentences) {
			return nil, fmt.Errorf("embedding count mismatch: got %d embeddings for %d sentences", len(embeddings), len(sentences))
		}

		chunks := []string{}
		var current []string
		var sum []float32
		length := 0

		flush := func() {
			if len(current) > 0 {
				chunks = append(chunks, strings.Join(current, " "))
			}
			current, sum, length = nil, nil, 0
		}

		for i, sentence := range sentences {
			if len(current) > 0 {
				// the sum has the same direction as the mean
				if CosineSimilarity(sum, embeddings[i]) < similarityThreshold || length+len(sentence) > maxChunkSize {
					flush()
				}
			}

			if sum == nil {
				sum = make([]float32, len(embeddings[i]))
			}
			for j := range embeddings[i] {
				sum[j] += embeddings[i][j]
			}
			current = append(current, sentence)
			length += len(sentence)
		}
		flush()

		return chunks, nil
	}
}

// DefaultChunker creates a semantic chunker on top of the default embedder
func DefaultChunker(maxChunkSize int, similarityThreshold float64) (ChunkFunc, error) {
	embedder, err := DefaultEmbedder()
	if err != nil {
		return nil, err
	}
	return SemanticChunker(embedder, maxChunkSize, similarityThreshold), nil
}
