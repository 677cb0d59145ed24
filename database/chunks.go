package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
	loadSql "github.com/siherrmann/retriever/sql"
)

// rankColumns are the token columns the lexical score sums over, in the order of the boost array.
var rankColumns = []string{
	model.FieldImportantKwd,
	model.FieldQuestionTks,
	model.FieldTitleTks,
	model.FieldTitleSmTks,
	model.FieldContentLtks,
	model.FieldContentSmLtks,
}

var defaultFieldBoosts = []string{
	model.FieldImportantKwd + "^30",
	model.FieldQuestionTks + "^20",
	model.FieldTitleTks + "^10",
	model.FieldTitleSmTks + "^5",
	model.FieldContentLtks + "^2",
	model.FieldContentSmLtks,
}

// fieldBoosts parses "field^boost" entries into one boost per rank column,
// normalized by the largest boost. important_tks shares the important_kwd column.
// Unknown fields are ignored and an empty list falls back to the default boosts.
func fieldBoosts(fields []string) []float64 {
	if len(fields) == 0 {
		fields = defaultFieldBoosts
	}

	boosts := make([]float64, len(rankColumns))
	for _, field := range fields {
		name, raw, found := strings.Cut(field, "^")
		boost := 1.0
		if found {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil || parsed < 0 {
				continue
			}
			boost = parsed
		}
		if name == model.FieldImportantTks {
			name = model.FieldImportantKwd
		}
		for i, column := range rankColumns {
			if column == name {
				boosts[i] = math.Max(boosts[i], boost)
			}
		}
	}

	maxBoost := 0.0
	for _, b := range boosts {
		maxBoost = math.Max(maxBoost, b)
	}
	if maxBoost == 0 {
		return fieldBoosts(defaultFieldBoosts)
	}
	for i := range boosts {
		boosts[i] /= maxBoost
	}
	return boosts
}

// IndexName returns the chunk index of a tenant
func IndexName(tenantID string) string {
	return "ragflow_" + tenantID
}

// ChunksDBHandlerFunctions defines the interface for Chunks database operations.
type ChunksDBHandlerFunctions interface {
	InsertChunk(ctx context.Context, chunk *model.Chunk) error
	InsertChunks(ctx context.Context, chunks []*model.Chunk) error
	Get(ctx context.Context, id string, index string, kbIDs []string) (*model.Chunk, error)
	Update(ctx context.Context, condition model.Condition, changes model.ChunkChanges, index string, kbID string) (bool, error)
	Search(ctx context.Context, req *model.SearchRequest) (*model.StoreResult, error)
	Delete(ctx context.Context, condition model.Condition, index string, kbID string) (int64, error)
}

// ChunksDBHandler handles chunk-related database operations
type ChunksDBHandler struct {
	db           *helper.Database
	embeddingDim int
}

// NewChunksDBHandler creates a new chunks database handler.
// It initializes the database connection and loads chunk-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewChunksDBHandler(db *helper.Database, embeddingDim int, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim <= 0 {
		return nil, helper.NewError("embedding dimension validation", fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim))
	}

	chunksDbHandler := &ChunksDBHandler{
		db:           db,
		embeddingDim: embeddingDim,
	}

	err := loadSql.LoadChunksSql(chunksDbHandler.db.Instance(), force)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = chunksDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ChunksDBHandler", "embedding_dim", embeddingDim)

	return chunksDbHandler, nil
}

// EmbeddingDim returns the vector dimension the table was created with
func (h *ChunksDBHandler) EmbeddingDim() int {
	return h.embeddingDim
}

// CreateTable creates the 'chunks' table in the database.
// If the table already exists, it does not create it again.
// It also creates the full text and vector indexes and the search vector trigger.
func (h *ChunksDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance().ExecContext(ctx, `SELECT init_chunks($1);`, h.embeddingDim)
	if err != nil {
		return helper.NewError("init chunks", err)
	}

	h.db.Logger.Info("Checked/created table chunks")

	return nil
}

// InsertChunk inserts a chunk or replaces the content of an existing chunk with the same id.
// Pagerank and availability of an existing chunk are kept.
func (h *ChunksDBHandler) InsertChunk(ctx context.Context, chunk *model.Chunk) error {
	return h.insertChunk(ctx, h.db.Instance(), chunk)
}

// InsertChunks inserts all chunks in one transaction
func (h *ChunksDBHandler) InsertChunks(ctx context.Context, chunks []*model.Chunk) error {
	tx, err := h.db.Instance().BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, chunk := range chunks {
		err = h.insertChunk(ctx, tx, chunk)
		if err != nil {
			return helper.NewError(fmt.Sprintf("insert chunk %d", i), err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit", err)
	}

	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (h *ChunksDBHandler) insertChunk(ctx context.Context, q queryRower, chunk *model.Chunk) error {
	if chunk.TenantIndex == "" || chunk.KbID == "" || chunk.DocID == "" {
		return helper.NewError("chunk validation", fmt.Errorf("chunk %q needs tenant index, kb id and doc id", chunk.ID))
	}
	if len(chunk.Embedding) > 0 && len(chunk.Embedding) != h.embeddingDim {
		return helper.NewError("chunk validation", fmt.Errorf("embedding dimension %d does not match %d", len(chunk.Embedding), h.embeddingDim))
	}

	row := q.QueryRowContext(ctx,
		`SELECT * FROM insert_chunk($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		chunk.ID,
		chunk.TenantIndex,
		chunk.KbID,
		chunk.DocID,
		chunk.DocName,
		chunk.Content,
		pq.Array(nonNil(chunk.ContentTokens)),
		pq.Array(nonNil(chunk.ContentSmTokens)),
		pq.Array(nonNil(chunk.TitleTokens)),
		pq.Array(nonNil(chunk.TitleSmTokens)),
		pq.Array(nonNil(chunk.ImportantKeywords)),
		pq.Array(nonNil(chunk.QuestionTokens)),
		vectorParam(chunk.Embedding),
		pq.Array(toInt64(chunk.PageNum)),
		chunk.Positions,
		chunk.Pagerank,
		chunk.Available,
	)

	err := row.Scan(&chunk.ID, &chunk.CreatedAt)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// Get retrieves a chunk by id. It returns nil without error when the chunk does not exist.
func (h *ChunksDBHandler) Get(ctx context.Context, id string, index string, kbIDs []string) (*model.Chunk, error) {
	row := h.db.Instance().QueryRowContext(ctx,
		`SELECT * FROM select_chunk($1, $2, $3)`,
		id,
		index,
		pq.Array(nonNil(kbIDs)),
	)

	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return chunk, nil
}

// Update applies changes to the chunks selected by condition.
// It reports whether at least one chunk was changed.
func (h *ChunksDBHandler) Update(ctx context.Context, condition model.Condition, changes model.ChunkChanges, index string, kbID string) (bool, error) {
	if len(condition.IDs) == 0 && condition.DocID == "" {
		return false, helper.NewError("update condition", fmt.Errorf("condition needs ids or a doc id"))
	}
	if changes.Pagerank == nil && changes.Available == nil {
		return false, helper.NewError("update changes", fmt.Errorf("no changes given"))
	}

	var affected int64
	err := h.db.Instance().QueryRowContext(ctx,
		`SELECT update_chunks($1, $2, $3, $4, $5, $6)`,
		index,
		kbID,
		pq.Array(nonNil(condition.IDs)),
		condition.DocID,
		changes.Pagerank,
		changes.Available,
	).Scan(&affected)
	if err != nil {
		return false, helper.NewError("scan", err)
	}

	return affected > 0, nil
}

// Delete removes the chunks selected by condition and returns how many were removed
func (h *ChunksDBHandler) Delete(ctx context.Context, condition model.Condition, index string, kbID string) (int64, error) {
	if len(condition.IDs) == 0 && condition.DocID == "" {
		return 0, helper.NewError("delete condition", fmt.Errorf("condition needs ids or a doc id"))
	}

	var affected int64
	err := h.db.Instance().QueryRowContext(ctx,
		`SELECT delete_chunks($1, $2, $3, $4)`,
		index,
		kbID,
		pq.Array(nonNil(condition.IDs)),
		condition.DocID,
	).Scan(&affected)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	return affected, nil
}

// Search runs a hybrid query. Lexical terms are matched against the weighted
// search vector, the kNN clause against the embedding with the same kb/doc pre-filter.
func (h *ChunksDBHandler) Search(ctx context.Context, req *model.SearchRequest) (*model.StoreResult, error) {
	if req == nil || len(req.IndexNames) == 0 {
		return nil, helper.NewError("search request validation", fmt.Errorf("at least one index name is required"))
	}

	if req.Knn != nil && len(req.Knn.Vector) != h.embeddingDim {
		return nil, helper.NewError("search request validation", fmt.Errorf("query vector dimension %d does not match %d", len(req.Knn.Vector), h.embeddingDim))
	}
	args := h.matchArgs(req)

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := h.db.Instance().QueryContext(ctx,
		`SELECT * FROM search_chunks($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		append(append([]any{}, args...), req.OrderByRecency, req.Highlight, req.Offset, limit)...,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	result := &model.StoreResult{
		Hits:       []*model.Chunk{},
		Highlights: map[string]string{},
	}
	for rows.Next() {
		var textScore, vectorScore float64
		var highlight string
		var total int64
		chunk, err := scanChunk(rows, &textScore, &vectorScore, &highlight, &total)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		chunk.TermSimilarity = textScore
		chunk.VectorSimilarity = vectorScore

		result.TotalHits = total
		result.Hits = append(result.Hits, chunk)
		if highlight != "" {
			result.Highlights[chunk.ID] = highlight
		}
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	// A page past the end carries no total.
	if len(result.Hits) == 0 && req.Offset > 0 {
		err = h.db.Instance().QueryRowContext(ctx,
			`SELECT count_chunks($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			args...,
		).Scan(&result.TotalHits)
		if err != nil {
			return nil, helper.NewError("scan total", err)
		}
	}

	if req.Aggregate {
		result.Aggregations, err = h.aggregate(ctx, args)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (h *ChunksDBHandler) aggregate(ctx context.Context, args []any) ([]model.Bucket, error) {
	rows, err := h.db.Instance().QueryContext(ctx,
		`SELECT * FROM aggregate_chunks($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		args...,
	)
	if err != nil {
		return nil, helper.NewError("query aggregation", err)
	}
	defer rows.Close()

	buckets := []model.Bucket{}
	for rows.Next() {
		var b model.Bucket
		var count int64
		err := rows.Scan(&b.DocID, &b.DocName, &count)
		if err != nil {
			return nil, helper.NewError("scan aggregation", err)
		}
		b.Count = int(count)
		buckets = append(buckets, b)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return buckets, nil
}

// matchArgs returns the eleven arguments shared by match, count and aggregate.
func (h *ChunksDBHandler) matchArgs(req *model.SearchRequest) []any {
	terms := []string{}
	minMatch := 0
	textBoost := 1.0
	var fields []string
	if req.Match != nil {
		fields = req.Match.Fields
		terms = tsTerms(req.Match.Terms)
		if len(terms) > 0 {
			minMatch = int(math.Max(1, math.Floor(float64(len(terms))*req.Match.MinimumShouldMatch)))
		}
		if req.Match.Boost > 0 {
			textBoost = req.Match.Boost
		}
	}

	var embedding any
	similarity := 0.0
	k := 0
	if req.Knn != nil && len(req.Knn.Vector) > 0 {
		embedding = pgvector.NewVector(req.Knn.Vector)
		similarity = req.Knn.Similarity
		k = req.Knn.K
		if req.Knn.NumCandidates > k {
			k = req.Knn.NumCandidates
		}
	}

	return []any{
		pq.Array(req.IndexNames),
		pq.Array(nonNil(req.KbIDs)),
		pq.Array(nonNil(req.DocIDs)),
		pq.Array(terms),
		minMatch,
		pq.Array(fieldBoosts(fields)),
		textBoost,
		embedding,
		similarity,
		k,
		req.AvailableOnly,
	}
}

// tsTerms turns weighted terms into tsquery-safe lexemes, dropping duplicates and punctuation.
func tsTerms(terms []model.WeightedTerm) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, t := range terms {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, t.Term)
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, clean)
	}
	return out
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(s scanner, extra ...any) (*model.Chunk, error) {
	chunk := &model.Chunk{}
	var embedding *pgvector.Vector
	var pageNum []int64

	dest := []any{
		&chunk.ID,
		&chunk.TenantIndex,
		&chunk.KbID,
		&chunk.DocID,
		&chunk.DocName,
		&chunk.Content,
		pq.Array(&chunk.ContentTokens),
		pq.Array(&chunk.ContentSmTokens),
		pq.Array(&chunk.TitleTokens),
		pq.Array(&chunk.TitleSmTokens),
		pq.Array(&chunk.ImportantKeywords),
		pq.Array(&chunk.QuestionTokens),
		&embedding,
		pq.Array(&pageNum),
		&chunk.Positions,
		&chunk.Pagerank,
		&chunk.Available,
		&chunk.CreatedAt,
	}

	err := s.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	if embedding != nil {
		chunk.Embedding = embedding.Slice()
	}
	for _, p := range pageNum {
		chunk.PageNum = append(chunk.PageNum, int(p))
	}

	return chunk, nil
}

func vectorParam(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toInt64(in []int) []int64 {
	out := make([]int64, 0, len(in))
	for _, v := range in {
		out = append(out, int64(v))
	}
	return out
}
