package search

import (
	"testing"

	"github.com/siherrmann/retriever/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestReranker(t *testing.T) {
	reranker := NewReranker(NewTermWeighter(NewTokenizer()))

	t.Run("Identical candidate scores one", func(t *testing.T) {
		sim, tsim, vsim := reranker.Rerank(
			[]float32{1, 0, 0},
			[][]float32{{1, 0, 0}},
			[]string{"vacation", "policy"},
			[][]string{{"vacation", "policy"}},
			DefaultTokenWeight, DefaultVectorWeight,
		)

		assert.InDelta(t, 1.0, sim[0], 1e-6)
		assert.InDelta(t, 1.0, tsim[0], 1e-6)
		assert.InDelta(t, 1.0, vsim[0], 1e-6)
	})

	t.Run("Zero vector similarity falls back to token similarity", func(t *testing.T) {
		sim, tsim, _ := reranker.Rerank(
			[]float32{1, 0},
			[][]float32{{0, 0}, {0, 0}},
			[]string{"vacation", "policy"},
			[][]string{{"vacation"}, {"budget"}},
			DefaultTokenWeight, DefaultVectorWeight,
		)

		assert.Equal(t, tsim, sim)
		assert.Greater(t, sim[0], sim[1])
	})

	t.Run("Negative cosine is clamped", func(t *testing.T) {
		sim, _, vsim := reranker.Rerank(
			[]float32{1, 0},
			[][]float32{{-1, 0}, {1, 0}},
			[]string{"a1"},
			[][]string{{"b2"}, {"b2"}},
			DefaultTokenWeight, DefaultVectorWeight,
		)

		assert.Equal(t, 0.0, vsim[0])
		assert.GreaterOrEqual(t, sim[0], 0.0)
	})

	t.Run("Weights are normalized", func(t *testing.T) {
		args := func(tw, vw float64) []float64 {
			sim, _, _ := reranker.Rerank([]float32{1, 1}, [][]float32{{1, 0}}, []string{"vacation"}, [][]string{{"vacation", "days"}}, tw, vw)
			return sim
		}

		assert.InDeltaSlice(t, args(0.3, 0.7), args(3, 7), 1e-12)
	})

	t.Run("Empty query tokens give zero token similarity", func(t *testing.T) {
		tsim := reranker.TokenSimilarity(nil, [][]string{{"vacation"}})

		assert.Equal(t, []float64{0}, tsim)
	})
}

func TestRerankProperties(t *testing.T) {
	reranker := NewReranker(NewTermWeighter(NewTokenizer()))
	vocab := []string{"vacation", "policy", "budget", "2024", "ab", "人工", "invoice", "days"}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		dim := rapid.IntRange(1, 6).Draw(t, "dim")
		vector := rapid.SliceOfN(rapid.Float32Range(-1, 1), dim, dim)
		tokens := rapid.SliceOfN(rapid.SampledFrom(vocab), 0, 6)

		query := vector.Draw(t, "query")
		queryTokens := tokens.Draw(t, "query_tokens")
		vectors := make([][]float32, n)
		candidateTokens := make([][]string, n)
		for i := range n {
			vectors[i] = vector.Draw(t, "vector")
			candidateTokens[i] = tokens.Draw(t, "tokens")
		}
		tw := rapid.Float64Range(0, 1).Draw(t, "token_weight")
		vw := rapid.Float64Range(0, 1).Draw(t, "vector_weight")

		sim, _, _ := reranker.Rerank(query, vectors, queryTokens, candidateTokens, tw, vw)
		require.Len(t, sim, n)
		for _, s := range sim {
			if s < 0 || s > 1 {
				t.Fatalf("score %v out of [0,1]", s)
			}
		}

		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		perm := rapid.Permutation(order).Draw(t, "perm")
		permVectors := make([][]float32, n)
		permTokens := make([][]string, n)
		for i, p := range perm {
			permVectors[i] = vectors[p]
			permTokens[i] = candidateTokens[p]
		}

		permSim, _, _ := reranker.Rerank(query, permVectors, queryTokens, permTokens, tw, vw)
		for i, p := range perm {
			if permSim[i] != sim[p] {
				t.Fatalf("score of candidate %d changed under permutation: %v != %v", p, permSim[i], sim[p])
			}
		}
	})
}

func TestCandidateTokens(t *testing.T) {
	t.Run("Repeats title, keywords and questions", func(t *testing.T) {
		chunk := &model.Chunk{
			ContentTokens:     []string{"a", "b", "a"},
			TitleTokens:       []string{"t"},
			ImportantKeywords: []string{"k"},
			QuestionTokens:    []string{"q"},
		}

		tokens := CandidateTokens(chunk)

		count := map[string]int{}
		for _, tk := range tokens {
			count[tk]++
		}
		assert.Equal(t, map[string]int{"a": 1, "b": 1, "t": 2, "k": 5, "q": 6}, count)
	})
}
