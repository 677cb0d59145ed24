package model

// Searchable chunk fields with their lexical boosts.
const (
	FieldImportantKwd  = "important_kwd"
	FieldImportantTks  = "important_tks"
	FieldQuestionTks   = "question_tks"
	FieldTitleTks      = "title_tks"
	FieldTitleSmTks    = "title_sm_tks"
	FieldContentLtks   = "content_ltks"
	FieldContentSmLtks = "content_sm_ltks"
)

// WeightedTerm is one query term and its normalized weight
type WeightedTerm struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// MatchExpr is the lexical part of a store query.
type MatchExpr struct {
	Fields             []string       `json:"fields"` // "field^boost"
	Terms              []WeightedTerm `json:"terms"`
	MinimumShouldMatch float64        `json:"minimum_should_match"`
	Boost              float64        `json:"boost"`
	Question           string         `json:"question"`
}

// KnnExpr is the vector part of a store query. The same kb/doc filter applies as pre-filter.
type KnnExpr struct {
	Vector        []float32 `json:"vector"`
	K             int       `json:"k"`
	NumCandidates int       `json:"num_candidates"`
	Similarity    float64   `json:"similarity"`
}

// SearchRequest is the query contract consumed by a document store
type SearchRequest struct {
	IndexNames     []string   `json:"index_names"`
	KbIDs          []string   `json:"kb_ids,omitempty"`
	DocIDs         []string   `json:"doc_ids,omitempty"`
	Match          *MatchExpr `json:"match,omitempty"`
	Knn            *KnnExpr   `json:"knn,omitempty"`
	Offset         int        `json:"offset"`
	Limit          int        `json:"limit"`
	OrderByRecency bool       `json:"order_by_recency"`
	Highlight      bool       `json:"highlight"`
	AvailableOnly  bool       `json:"available_only"`
	Aggregate      bool       `json:"aggregate"`
	// Fields is the requested projection. Stores may return more.
	Fields []string `json:"fields,omitempty"`
}

// Bucket is one document aggregation entry
type Bucket struct {
	DocID   string `json:"doc_id"`
	DocName string `json:"doc_name"`
	Count   int    `json:"count"`
}

// StoreResult is the raw answer of a document store search
type StoreResult struct {
	TotalHits    int64             `json:"total"`
	Hits         []*Chunk          `json:"hits"`
	Highlights   map[string]string `json:"highlights,omitempty"`
	Aggregations []Bucket          `json:"aggregations,omitempty"`
}

// Total returns the number of matching chunks, not only the returned page
func (r *StoreResult) Total() int64 {
	if r == nil {
		return 0
	}
	return r.TotalHits
}

// IDs returns the chunk ids of the page in store order
func (r *StoreResult) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.Hits))
	for _, hit := range r.Hits {
		ids = append(ids, hit.ID)
	}
	return ids
}

// Source returns the chunks of the page keyed by id
func (r *StoreResult) Source() map[string]*Chunk {
	source := map[string]*Chunk{}
	if r == nil {
		return source
	}
	for _, hit := range r.Hits {
		source[hit.ID] = hit
	}
	return source
}

// Highlight returns the highlight fragments keyed by id
func (r *StoreResult) Highlight() map[string]string {
	highlight := map[string]string{}
	if r == nil {
		return highlight
	}
	for id, h := range r.Highlights {
		highlight[id] = h
	}
	return highlight
}

// Aggregation returns the document buckets
func (r *StoreResult) Aggregation() []Bucket {
	if r == nil {
		return nil
	}
	return append([]Bucket(nil), r.Aggregations...)
}

// SearchResult is the answer of one hybrid search. It is built once and not mutated.
type SearchResult struct {
	Total       int64             `json:"total"`
	IDs         []string          `json:"ids"`
	Field       map[string]*Chunk `json:"field"`
	Highlight   map[string]string `json:"highlight,omitempty"`
	Aggregation []Bucket          `json:"aggregation,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	QueryVector []float32         `json:"query_vector,omitempty"`
}

// Retrieval is one reranked, thresholded page of chunks
type Retrieval struct {
	Total   int      `json:"total"`
	Chunks  []*Chunk `json:"chunks"`
	DocAggs []Bucket `json:"doc_aggs"`
}
