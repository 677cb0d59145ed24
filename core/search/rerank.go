package search

import (
	"maps"
	"math"
	"slices"

	"github.com/siherrmann/retriever/core/pipeline"
	"github.com/siherrmann/retriever/model"
)

const (
	// DefaultTokenWeight is the share of token similarity in a hybrid score
	DefaultTokenWeight = 0.3
	// DefaultVectorWeight is the share of vector similarity in a hybrid score
	DefaultVectorWeight = 0.7
)

// Reranker scores candidates by token overlap and vector cosine.
// Scores are in [0,1] and each candidate's score is independent of its position.
type Reranker struct {
	weighter *TermWeighter
}

// NewReranker creates a new reranker
func NewReranker(weighter *TermWeighter) *Reranker {
	return &Reranker{weighter: weighter}
}

// Rerank returns the hybrid, token and vector similarity of every candidate.
// When every vector similarity is zero the token similarity is returned as hybrid score.
func (r *Reranker) Rerank(queryVector []float32, candidateVectors [][]float32, queryTokens []string, candidateTokens [][]string, tokenWeight float64, vectorWeight float64) (sim []float64, tsim []float64, vsim []float64) {
	tokenWeight, vectorWeight = normalizeWeights(tokenWeight, vectorWeight)

	vsim = make([]float64, len(candidateVectors))
	allZero := true
	for i, vector := range candidateVectors {
		vsim[i] = math.Max(0, math.Min(1, pipeline.CosineSimilarity(queryVector, vector)))
		if vsim[i] != 0 {
			allZero = false
		}
	}

	tsim = r.TokenSimilarity(queryTokens, candidateTokens)
	if allZero {
		return append([]float64(nil), tsim...), tsim, vsim
	}

	sim = make([]float64, len(tsim))
	for i := range tsim {
		v := 0.0
		if i < len(vsim) {
			v = vsim[i]
		}
		sim[i] = math.Max(0, math.Min(1, v*vectorWeight+tsim[i]*tokenWeight))
	}
	return sim, tsim, vsim
}

// TokenSimilarity returns the matched share of query term weight for every candidate
func (r *Reranker) TokenSimilarity(queryTokens []string, candidateTokens [][]string) []float64 {
	query := r.tokenDict(queryTokens)
	similarities := make([]float64, len(candidateTokens))
	for i, tokens := range candidateTokens {
		similarities[i] = dictSimilarity(query, r.tokenDict(tokens))
	}
	return similarities
}

// tokenDict weights unigrams by 0.4 and adjacent pairs by 0.6 of the larger weight
func (r *Reranker) tokenDict(tokens []string) map[string]float64 {
	dict := map[string]float64{}
	weights := r.weighter.Weights(tokens)
	for i, tw := range weights {
		dict[tw.Term] += tw.Weight * 0.4
		if i+1 < len(weights) {
			next := weights[i+1]
			dict[tw.Term+next.Term] += math.Max(tw.Weight, next.Weight) * 0.6
		}
	}
	return dict
}

func dictSimilarity(query map[string]float64, candidate map[string]float64) float64 {
	if len(query) == 0 || len(candidate) == 0 {
		return 0
	}
	matched, total := 1e-9, 1e-9
	for _, term := range slices.Sorted(maps.Keys(query)) {
		weight := query[term]
		if _, ok := candidate[term]; ok {
			matched += weight
		}
		total += weight
	}
	return math.Min(1, matched/total)
}

func normalizeWeights(tokenWeight float64, vectorWeight float64) (float64, float64) {
	if tokenWeight < 0 {
		tokenWeight = 0
	}
	if vectorWeight < 0 {
		vectorWeight = 0
	}
	sum := tokenWeight + vectorWeight
	if sum == 0 {
		return DefaultTokenWeight, DefaultVectorWeight
	}
	return tokenWeight / sum, vectorWeight / sum
}

// CandidateTokens returns the token list a chunk is reranked with:
// distinct content tokens, title tokens twice, important keywords five times and question tokens six times.
func CandidateTokens(chunk *model.Chunk) []string {
	seen := map[string]bool{}
	tokens := make([]string, 0, len(chunk.ContentTokens)+2*len(chunk.TitleTokens)+5*len(chunk.ImportantKeywords)+6*len(chunk.QuestionTokens))
	for _, t := range chunk.ContentTokens {
		if t != "" && !seen[t] {
			seen[t] = true
			tokens = append(tokens, t)
		}
	}
	repeat := func(list []string, n int) {
		for range n {
			for _, t := range list {
				if t != "" {
					tokens = append(tokens, t)
				}
			}
		}
	}
	repeat(chunk.TitleTokens, 2)
	repeat(chunk.ImportantKeywords, 5)
	repeat(chunk.QuestionTokens, 6)
	return tokens
}
