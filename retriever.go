package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/siherrmann/retriever/core/hierarchical"
	"github.com/siherrmann/retriever/core/pipeline"
	"github.com/siherrmann/retriever/core/raptor"
	"github.com/siherrmann/retriever/core/search"
	"github.com/siherrmann/retriever/database"
	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
	loadSql "github.com/siherrmann/retriever/sql"
)

// summaryPageSize is the page size used to load the chunks of a document for summarization
const summaryPageSize = 256

// Retriever provides a unified interface to the store, the hybrid search,
// the hierarchical retrieval and the summary tree builder
type Retriever struct {
	DB             *helper.Database
	Chunks         *database.ChunksDBHandler
	Documents      *database.DocumentsDBHandler
	KnowledgeBases *database.KnowledgeBasesDBHandler
	Pipeline       *pipeline.Pipeline // Optional chunking pipeline
	Searcher       *search.Searcher
	Hierarchical   *hierarchical.Retriever
	// Metrics are registered on Registry, which callers may expose
	Metrics  *helper.Metrics
	Registry *prometheus.Registry

	config       model.RetrievalConfig
	embeddingDim int
	chat         pipeline.ChatModel
	cache        helper.Cache
	counter      pipeline.TokenCounter
	redis        *helper.RedisCache
	// Logging
	log *slog.Logger
}

// NewRetriever connects to the database, loads the SQL functions and creates all handlers.
// embeddingDim is the dimension of the stored chunk embeddings.
func NewRetriever(config *helper.DatabaseConfiguration, embeddingDim int) (*Retriever, error) {
	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	// Initialize database
	db, err := helper.NewDatabase("retriever", config, logger)
	if err != nil {
		return nil, helper.NewError("connect database", err)
	}
	err = loadSql.Init(db.Instance())
	if err != nil {
		return nil, helper.NewError("initialize database extensions", err)
	}

	// Knowledge bases first, then documents and chunks
	// force=false to not reload if functions already exist
	knowledgeBases, err := database.NewKnowledgeBasesDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create knowledge bases handler", err)
	}

	documents, err := database.NewDocumentsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create documents handler", err)
	}

	chunks, err := database.NewChunksDBHandler(db, embeddingDim, false)
	if err != nil {
		return nil, helper.NewError("create chunks handler", err)
	}

	registry := prometheus.NewRegistry()
	r := &Retriever{
		DB:             db,
		Chunks:         chunks,
		Documents:      documents,
		KnowledgeBases: knowledgeBases,
		Metrics:        helper.NewMetrics("retriever", registry),
		Registry:       registry,
		config:         model.DefaultRetrievalConfig(),
		embeddingDim:   embeddingDim,
		log:            logger,
	}
	if err := r.wire(); err != nil {
		return nil, err
	}

	return r, nil
}

// wire rebuilds the searcher and the hierarchical retriever from the current
// pipeline, configuration and chat model
func (r *Retriever) wire() error {
	var embedder pipeline.Embedder
	if r.Pipeline != nil {
		embedder = r.Pipeline.Embedder
	}
	r.Searcher = search.NewSearcher(r.Chunks, embedder, r.log, r.Metrics)

	h, err := hierarchical.NewRetriever(r.config, r.KnowledgeBases, r.Documents, r.Searcher, r.embeddingDim, r.log, r.Metrics)
	if err != nil {
		return helper.NewError("create hierarchical retriever", err)
	}
	if r.chat != nil && r.config.KBRoutingMethod == model.RoutingLLMBased {
		h.SetRouter(hierarchical.NewLLMRouter(hierarchical.ChatSelector{Chat: r.chat}, r.config.KBRoutingThreshold, r.log))
	}
	r.Hierarchical = h
	return nil
}

// Close closes the cache and the database connection
func (r *Retriever) Close() error {
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			r.log.Warn("Failed to close cache", slog.String("error", err.Error()))
		}
		r.redis = nil
	}
	if r.DB != nil {
		return r.DB.Close()
	}
	return nil
}

// Refresh reconnects to the database
func (r *Retriever) Refresh(ctx context.Context) error {
	if r.DB == nil {
		return helper.NewError("refresh", fmt.Errorf("database not initialized"))
	}
	return r.DB.Refresh(ctx)
}

// SetPipeline sets the chunking pipeline for document processing
func (r *Retriever) SetPipeline(pipeline *pipeline.Pipeline) {
	r.Pipeline = pipeline
	if err := r.wire(); err != nil {
		r.log.Error("Error rewiring retriever", slog.String("error", err.Error()))
	}
}

// UseDefaultPipeline sets up the default semantic chunking and embedding pipeline.
// This uses DefaultChunker with 500 char max chunks and 0.7 similarity threshold,
// and DefaultEmbedder with the all-MiniLM-L6-v2 model (384 dimensions)
func (r *Retriever) UseDefaultPipeline() error {
	chunker, err := pipeline.DefaultChunker(500, 0.7)
	if err != nil {
		return helper.NewError("create default chunker", err)
	}
	embedder, err := pipeline.DefaultEmbedder()
	if err != nil {
		return helper.NewError("create default embedder", err)
	}

	r.SetPipeline(pipeline.NewPipeline(chunker, embedder))
	return nil
}

// SetRetrievalConfig validates and applies the configuration of hierarchical retrieval
func (r *Retriever) SetRetrievalConfig(config model.RetrievalConfig) error {
	if err := config.Validate(); err != nil {
		return helper.NewError("retrieval config validation", err)
	}
	previous := r.config
	r.config = config
	if err := r.wire(); err != nil {
		r.config = previous
		return err
	}
	return nil
}

// SetChatModel sets the chat model used for LLM routing and summary trees
func (r *Retriever) SetChatModel(chat pipeline.ChatModel) error {
	r.chat = chat
	return r.wire()
}

// SetCache enables caching of summaries and summary embeddings
func (r *Retriever) SetCache(cache helper.Cache) {
	r.cache = cache
}

// UseRedisCache connects to the Redis cache configured in the environment
// (RETRIEVER_CACHE_*) and uses it for summaries and summary embeddings.
func (r *Retriever) UseRedisCache(ctx context.Context) error {
	config, err := helper.NewCacheConfiguration()
	if err != nil {
		return err
	}
	cache, err := helper.NewRedisCache(ctx, config, r.log)
	if err != nil {
		return err
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	r.redis = cache
	r.cache = cache
	return nil
}

// InsertKnowledgeBase stores a knowledge base. Its embedding dimension defaults to the one of the store.
func (r *Retriever) InsertKnowledgeBase(ctx context.Context, kb *model.KnowledgeBase) error {
	if kb.EmbeddingDim == 0 {
		kb.EmbeddingDim = r.embeddingDim
	}
	if kb.EmbeddingDim != r.embeddingDim {
		return helper.NewError("insert knowledge base", fmt.Errorf("embedding dimension %d does not match the store dimension %d", kb.EmbeddingDim, r.embeddingDim))
	}
	if err := r.KnowledgeBases.InsertKnowledgeBase(ctx, kb); err != nil {
		return helper.NewError("insert knowledge base", err)
	}
	return nil
}

// InsertDocument stores the metadata of a document without indexing its content
func (r *Retriever) InsertDocument(ctx context.Context, doc *model.Document) error {
	if err := r.Documents.InsertDocument(ctx, doc); err != nil {
		return helper.NewError("insert document", err)
	}
	return nil
}

// IndexDocument processes a document by:
// 1. Inserting the document metadata (without content)
// 2. Chunking and embedding the content with the pipeline
// 3. Tokenizing and inserting all chunks into the index of the knowledge base tenant
// Returns the number of chunks inserted.
func (r *Retriever) IndexDocument(ctx context.Context, doc *model.Document) (int, error) {
	if r.Pipeline == nil {
		return 0, helper.NewError("index document", fmt.Errorf("pipeline not set, use SetPipeline() first"))
	}
	if doc.Content == "" {
		return 0, helper.NewError("index document", fmt.Errorf("document content is empty"))
	}

	kb, err := r.KnowledgeBases.SelectKnowledgeBase(ctx, doc.KbID)
	if err != nil {
		return 0, helper.NewError("select knowledge base", err)
	}

	if err := r.InsertDocument(ctx, doc); err != nil {
		return 0, err
	}

	r.log.Info("Inserted document", slog.String("document_id", doc.ID), slog.String("name", doc.Name))

	chunks, err := r.Pipeline.Process(ctx, doc, database.IndexName(kb.TenantID))
	if err != nil {
		return 0, helper.NewError("process chunks", err)
	}
	for _, chunk := range chunks {
		r.Searcher.Tokenizer().TokenizeChunk(chunk)
	}

	r.log.Info("Processed document into chunks", slog.Int("num_chunks", len(chunks)), slog.String("document_id", doc.ID))

	if err := r.Chunks.InsertChunks(ctx, chunks); err != nil {
		return 0, helper.NewError("insert chunks", err)
	}

	return len(chunks), nil
}

// Search runs one hybrid search
func (r *Retriever) Search(ctx context.Context, params search.SearchParams) (*model.SearchResult, error) {
	return r.Searcher.Search(ctx, params)
}

// Retrieval runs a reranked and paginated hybrid search over tenants and knowledge bases
func (r *Retriever) Retrieval(ctx context.Context, question string, config model.SearchConfig) (*model.Retrieval, error) {
	if config.EmbeddingDim == 0 {
		config.EmbeddingDim = r.embeddingDim
	}
	return r.Searcher.Retrieval(ctx, question, config)
}

// Retrieve runs the hierarchical retrieval over the given knowledge bases
func (r *Retriever) Retrieve(ctx context.Context, query string, kbIDs []string, topK int, filters map[string]any) (*model.RetrievalResult, error) {
	return r.Hierarchical.Retrieve(ctx, query, kbIDs, topK, filters)
}

// InsertCitations annotates answer with citation markers of the given chunks
func (r *Retriever) InsertCitations(ctx context.Context, answer string, chunks []*model.Chunk, opts search.CitationOptions) (string, []int, error) {
	return r.Searcher.InsertCitations(ctx, answer, chunks, opts)
}

// BuildSummaryTree summarizes the chunks of a stored document into a tree and
// indexes the summaries as chunks of the same document.
// It returns the tree and the number of inserted summary chunks.
func (r *Retriever) BuildSummaryTree(ctx context.Context, docID string, config model.RaptorConfig) (*model.ClusterTree, int, error) {
	if r.chat == nil || r.Pipeline == nil || r.Pipeline.Embedder == nil {
		return nil, 0, helper.NewError("build summary tree", fmt.Errorf("chat model and pipeline embedder are required"))
	}

	doc, err := r.Documents.SelectDocument(ctx, docID)
	if err != nil {
		return nil, 0, helper.NewError("select document", err)
	}
	kb, err := r.KnowledgeBases.SelectKnowledgeBase(ctx, doc.KbID)
	if err != nil {
		return nil, 0, helper.NewError("select knowledge base", err)
	}

	chunks, err := r.Searcher.ChunkList(ctx, doc.ID, kb.TenantID, []string{kb.ID}, summaryPageSize, config.MaxChunks+1, []string{"content_with_weight", "embedding"})
	if err != nil {
		return nil, 0, helper.NewError("list chunks", err)
	}

	summarizer, err := raptor.NewClusterSummarizer(config, r.chat, r.Pipeline.Embedder, r.log)
	if err != nil {
		return nil, 0, err
	}
	summarizer.SetMetrics(r.Metrics)
	if r.counter == nil {
		r.counter = pipeline.DefaultTokenCounter()
	}
	summarizer.SetTokenCounter(r.counter)
	if r.cache != nil {
		summarizer.SetCache(r.cache)
	}

	leaves := raptor.LeavesFromChunks(chunks)
	tree, err := summarizer.Build(ctx, leaves)
	if err != nil {
		return nil, 0, err
	}

	summaries := raptor.ToChunks(tree, leafCount(tree), doc, database.IndexName(kb.TenantID))
	if len(summaries) == 0 {
		return tree, 0, nil
	}
	if err := r.Chunks.InsertChunks(ctx, summaries); err != nil {
		return nil, 0, helper.NewError("insert summary chunks", err)
	}

	r.log.Info("Indexed summary tree", slog.String("document_id", doc.ID), slog.Int("summaries", len(summaries)))
	return tree, len(summaries), nil
}

// ChangeIndexType changes the vector index type between HNSW and IVFFlat
func (r *Retriever) ChangeIndexType(ctx context.Context, indexType database.IndexType, params database.IndexParams) error {
	return r.Chunks.ChangeIndexType(ctx, indexType, params)
}

func leafCount(tree *model.ClusterTree) int {
	if len(tree.Layers) == 0 {
		return len(tree.Nodes)
	}
	return tree.Layers[0].End
}
