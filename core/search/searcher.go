package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/siherrmann/retriever/core/pipeline"
	"github.com/siherrmann/retriever/database"
	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
)

const (
	// DefaultTopK is the kNN candidate pool of a search
	DefaultTopK = 1024
	// DefaultKnnSimilarity is the kNN similarity floor when none is given
	DefaultKnnSimilarity = 0.1
	// RerankPageLimit is the last page that is reranked over a shared window
	RerankPageLimit = 3

	minRerankWindow = 128
)

// DocStore is the query surface of a chunk store
type DocStore interface {
	Search(ctx context.Context, req *model.SearchRequest) (*model.StoreResult, error)
	Get(ctx context.Context, id string, index string, kbIDs []string) (*model.Chunk, error)
	Update(ctx context.Context, condition model.Condition, changes model.ChunkChanges, index string, kbID string) (bool, error)
	Delete(ctx context.Context, condition model.Condition, index string, kbID string) (int64, error)
}

var _ DocStore = (*database.ChunksDBHandler)(nil)

// SearchParams is one hybrid search request
type SearchParams struct {
	Question   string
	IndexNames []string
	KbIDs      []string
	DocIDs     []string
	Page       int
	Size       int
	TopK       int
	// Vector adds a kNN clause for the embedded question
	Vector bool
	// Similarity is the kNN floor, zero means DefaultKnnSimilarity
	Similarity    float64
	Highlight     bool
	AvailableOnly bool
	Aggregate     bool
	Fields        []string
}

// Searcher runs hybrid searches against a DocStore
type Searcher struct {
	store     DocStore
	embedder  pipeline.Embedder
	tokenizer *Tokenizer
	builder   *QueryBuilder
	reranker  *Reranker
	citations *CitationInserter
	metrics   *helper.Metrics
	log       *slog.Logger
}

// NewSearcher creates a searcher. The embedder is only needed for vector searches.
func NewSearcher(store DocStore, embedder pipeline.Embedder, logger *slog.Logger, metrics *helper.Metrics) *Searcher {
	if logger == nil {
		logger = helper.NewLogger(os.Stdout, slog.LevelInfo)
	}

	tokenizer := NewTokenizer()
	builder := NewQueryBuilder(tokenizer)
	reranker := NewReranker(builder.Weighter())
	return &Searcher{
		store:     store,
		embedder:  embedder,
		tokenizer: tokenizer,
		builder:   builder,
		reranker:  reranker,
		citations: NewCitationInserter(tokenizer, reranker),
		metrics:   metrics,
		log:       logger,
	}
}

// Tokenizer returns the tokenizer shared by all parts of the searcher
func (s *Searcher) Tokenizer() *Tokenizer {
	return s.tokenizer
}

// Reranker returns the reranker of the searcher
func (s *Searcher) Reranker() *Reranker {
	return s.reranker
}

// Search builds the hybrid query for params and runs it. A vector search with zero
// hits is repeated once with a relaxed lexical match and a higher similarity floor.
func (s *Searcher) Search(ctx context.Context, params SearchParams) (*model.SearchResult, error) {
	if len(params.IndexNames) == 0 {
		return nil, helper.NewError("search", fmt.Errorf("no index given"))
	}

	topK := params.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	page := max(params.Page, 1)
	size := params.Size
	if size <= 0 {
		size = topK
	}

	match, keywords := s.builder.Question(params.Question, DefaultMinMatch)
	req := &model.SearchRequest{
		IndexNames:     params.IndexNames,
		KbIDs:          params.KbIDs,
		DocIDs:         params.DocIDs,
		Match:          match,
		Offset:         (page - 1) * size,
		Limit:          size,
		OrderByRecency: params.Question == "",
		Highlight:      params.Question != "" && (params.Highlight || !params.Vector),
		AvailableOnly:  params.AvailableOnly,
		Aggregate:      params.Aggregate,
		Fields:         params.Fields,
	}

	var queryVector []float32
	if params.Vector && params.Question != "" {
		if s.embedder == nil {
			return nil, helper.NewError("search", fmt.Errorf("vector search needs an embedder"))
		}
		vector, _, err := s.embedder.EncodeQueries(ctx, params.Question)
		if err != nil {
			return nil, helper.NewError("embed question", err)
		}
		queryVector = vector

		similarity := params.Similarity
		if similarity <= 0 {
			similarity = DefaultKnnSimilarity
		}
		req.Knn = &model.KnnExpr{
			Vector:        vector,
			K:             topK,
			NumCandidates: topK * 2,
			Similarity:    similarity,
		}
		if req.Match != nil {
			req.Match.Boost = LexicalBoost
		}
	}

	res, err := s.store.Search(ctx, req)
	if err != nil {
		return nil, helper.NewError("search store", err)
	}

	if res.Total() == 0 && req.Knn != nil {
		retry := *req
		retryKnn := *req.Knn
		retryKnn.Similarity = RetrySimilarity
		retry.Knn = &retryKnn
		retry.Match, _ = s.builder.Question(params.Question, RetryMinMatch)
		// Scoped to documents the retry lists every chunk in scope.
		if len(params.DocIDs) > 0 {
			retry.Match = nil
			retry.Knn = nil
		}
		if retry.Match != nil {
			retry.Match.Boost = LexicalBoost
		}

		s.metrics.IncSearchRetry()
		s.log.Info("Retrying search without hits", slog.String("question", params.Question), slog.Float64("min_match", RetryMinMatch), slog.Float64("similarity", RetrySimilarity))

		res, err = s.store.Search(ctx, &retry)
		if err != nil {
			return nil, helper.NewError("search store", err)
		}
	}

	return &model.SearchResult{
		Total:       res.Total(),
		IDs:         res.IDs(),
		Field:       res.Source(),
		Highlight:   res.Highlight(),
		Aggregation: res.Aggregation(),
		Keywords:    s.builder.Keywords(keywords),
		QueryVector: queryVector,
	}, nil
}

// Rerank scores the hits of a search result against the question
func (s *Searcher) Rerank(result *model.SearchResult, question string, tokenWeight float64, vectorWeight float64) (sim []float64, tsim []float64, vsim []float64) {
	if result == nil || len(result.IDs) == 0 {
		return []float64{}, []float64{}, []float64{}
	}

	_, keywords := s.builder.Question(question, DefaultMinMatch)
	vectors := make([][]float32, len(result.IDs))
	tokens := make([][]string, len(result.IDs))
	for i, id := range result.IDs {
		chunk := result.Field[id]
		if chunk == nil {
			vectors[i] = make([]float32, len(result.QueryVector))
			tokens[i] = []string{}
			continue
		}
		vectors[i] = chunk.Embedding
		if len(vectors[i]) == 0 {
			vectors[i] = make([]float32, len(result.QueryVector))
		}
		tokens[i] = CandidateTokens(chunk)
	}

	return s.reranker.Rerank(result.QueryVector, vectors, keywords, tokens, tokenWeight, vectorWeight)
}

// Retrieval returns one page of reranked chunks above the similarity threshold.
// Pages up to RerankPageLimit are cut from one reranked window, so their order is consistent.
func (s *Searcher) Retrieval(ctx context.Context, question string, config model.SearchConfig) (*model.Retrieval, error) {
	ranks := &model.Retrieval{Chunks: []*model.Chunk{}, DocAggs: []model.Bucket{}}
	if question == "" {
		return ranks, nil
	}
	if err := helper.ValidateStruct(config); err != nil {
		return nil, helper.NewError("retrieval config validation", err)
	}
	if config.EmbeddingDim > 0 && s.embedder != nil && s.embedder.Dim() != config.EmbeddingDim {
		return nil, helper.NewError("retrieval config validation", fmt.Errorf("embedder dimension %d does not match %d", s.embedder.Dim(), config.EmbeddingDim))
	}

	indexNames := make([]string, 0, len(config.TenantIDs))
	for _, tenantID := range config.TenantIDs {
		indexNames = append(indexNames, database.IndexName(tenantID))
	}

	params := SearchParams{
		Question:      question,
		IndexNames:    indexNames,
		KbIDs:         config.KbIDs,
		DocIDs:        config.DocIDs,
		Page:          config.Page,
		Size:          config.Size,
		TopK:          config.TopK,
		Vector:        true,
		Similarity:    config.SimilarityThreshold,
		Highlight:     config.Highlight,
		AvailableOnly: true,
	}
	windowed := config.Page <= RerankPageLimit
	if windowed {
		params.Page = 1
		params.Size = max(config.Size*RerankPageLimit, minRerankWindow)
	}

	result, err := s.Search(ctx, params)
	if err != nil {
		return nil, err
	}

	sim, tsim, vsim := s.Rerank(result, question, 1-config.VectorSimilarityWeight, config.VectorSimilarityWeight)
	for i, id := range result.IDs {
		if chunk := result.Field[id]; chunk != nil {
			sim[i] = math.Min(1, sim[i]+chunk.Pagerank/100)
		}
	}

	order := make([]int, len(sim))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return sim[order[a]] > sim[order[b]] })

	var passing []*model.Chunk
	for _, i := range order {
		if sim[i] < config.SimilarityThreshold {
			break
		}
		id := result.IDs[i]
		source := result.Field[id]
		if source == nil {
			continue
		}
		chunk := *source
		chunk.Similarity = sim[i]
		chunk.TermSimilarity = tsim[i]
		chunk.VectorSimilarity = vsim[i]
		if config.Highlight {
			chunk.Highlight = result.Highlight[id]
			if chunk.Highlight == "" {
				chunk.Highlight = chunk.Content
			}
		}
		passing = append(passing, &chunk)
	}

	page := passing
	if windowed {
		start := min((config.Page-1)*config.Size, len(passing))
		end := min(start+config.Size, len(passing))
		page = passing[start:end]
		ranks.Total = len(passing)
	} else {
		ranks.Total = int(result.Total)
	}
	ranks.Chunks = append(ranks.Chunks, page...)
	ranks.DocAggs = docAggregations(passing)

	return ranks, nil
}

// docAggregations counts chunks per document, most frequent first
func docAggregations(chunks []*model.Chunk) []model.Bucket {
	buckets := []model.Bucket{}
	index := map[string]int{}
	for _, chunk := range chunks {
		i, ok := index[chunk.DocID]
		if !ok {
			i = len(buckets)
			index[chunk.DocID] = i
			buckets = append(buckets, model.Bucket{DocID: chunk.DocID, DocName: chunk.DocName})
		}
		buckets[i].Count++
	}
	sort.SliceStable(buckets, func(a, b int) bool { return buckets[a].Count > buckets[b].Count })
	return buckets
}

// ChunkList pages through the chunks of one document. A page without raw hits ends the
// listing; a page whose hits all lose their projected fields is skipped.
func (s *Searcher) ChunkList(ctx context.Context, docID string, tenantID string, kbIDs []string, pageSize int, maxCount int, fields []string) ([]*model.Chunk, error) {
	if pageSize <= 0 || maxCount <= 0 {
		return []*model.Chunk{}, nil
	}

	maxPages := (maxCount+pageSize-1)/pageSize + 1
	chunks := []*model.Chunk{}
	for page := 0; page < maxPages && len(chunks) < maxCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := s.store.Search(ctx, &model.SearchRequest{
			IndexNames: []string{database.IndexName(tenantID)},
			KbIDs:      kbIDs,
			DocIDs:     []string{docID},
			Offset:     page * pageSize,
			Limit:      pageSize,
			Fields:     fields,
		})
		if err != nil {
			return nil, helper.NewError("list chunks", err)
		}
		if len(res.Hits) == 0 {
			break
		}

		for _, hit := range res.Hits {
			if projected, ok := ProjectChunk(hit, fields); ok {
				chunks = append(chunks, projected)
				if len(chunks) >= maxCount {
					break
				}
			}
		}
	}

	return chunks, nil
}

// InsertCitations annotates answer with citations of the given chunks
func (s *Searcher) InsertCitations(ctx context.Context, answer string, chunks []*model.Chunk, opts CitationOptions) (string, []int, error) {
	if s.embedder == nil {
		return "", nil, helper.NewError("insert citations", fmt.Errorf("citations need an embedder"))
	}
	vectors := make([][]float32, len(chunks))
	tokens := make([][]string, len(chunks))
	for i, chunk := range chunks {
		vectors[i] = chunk.Embedding
		if len(vectors[i]) == 0 {
			vectors[i] = make([]float32, s.embedder.Dim())
		}
		tokens[i] = s.tokenizer.Tokenize(RmWWW(chunk.Content))
	}
	return s.citations.Insert(ctx, answer, vectors, tokens, s.embedder, opts)
}

// ProjectChunk keeps the id and the requested fields of a chunk. It reports false
// when every requested field is empty. No fields keep the whole chunk.
func ProjectChunk(chunk *model.Chunk, fields []string) (*model.Chunk, bool) {
	if len(fields) == 0 {
		c := *chunk
		return &c, true
	}

	projected := &model.Chunk{ID: chunk.ID}
	found := false
	for _, field := range fields {
		switch field {
		case "content", "content_with_weight":
			projected.Content = chunk.Content
			found = found || chunk.Content != ""
		case "doc_id":
			projected.DocID = chunk.DocID
			found = found || chunk.DocID != ""
		case "doc_name", "docnm_kwd":
			projected.DocName = chunk.DocName
			found = found || chunk.DocName != ""
		case "kb_id":
			projected.KbID = chunk.KbID
			found = found || chunk.KbID != ""
		case model.FieldContentLtks:
			projected.ContentTokens = chunk.ContentTokens
			found = found || len(chunk.ContentTokens) > 0
		case model.FieldTitleTks:
			projected.TitleTokens = chunk.TitleTokens
			found = found || len(chunk.TitleTokens) > 0
		case model.FieldImportantKwd:
			projected.ImportantKeywords = chunk.ImportantKeywords
			found = found || len(chunk.ImportantKeywords) > 0
		case model.FieldQuestionTks:
			projected.QuestionTokens = chunk.QuestionTokens
			found = found || len(chunk.QuestionTokens) > 0
		case "embedding":
			projected.Embedding = chunk.Embedding
			found = found || len(chunk.Embedding) > 0
		case "positions", "position_int":
			projected.Positions = chunk.Positions
			found = found || len(chunk.Positions) > 0
		case "page_num", "page_num_int":
			projected.PageNum = chunk.PageNum
			found = found || len(chunk.PageNum) > 0
		}
	}
	return projected, found
}

// TokenizeChunk fills the token fields of a chunk from its content and document name
func (t *Tokenizer) TokenizeChunk(chunk *model.Chunk) {
	chunk.ContentTokens = t.Tokenize(chunk.Content)
	chunk.ContentSmTokens = t.FineGrained(chunk.ContentTokens)
	chunk.TitleTokens = t.Tokenize(chunk.DocName)
	chunk.TitleSmTokens = t.FineGrained(chunk.TitleTokens)
	if chunk.ImportantKeywords == nil {
		chunk.ImportantKeywords = []string{}
	}
	if chunk.QuestionTokens == nil {
		chunk.QuestionTokens = []string{}
	}
}
