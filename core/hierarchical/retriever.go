package hierarchical

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/siherrmann/retriever/database"
	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
)

// Tier names used for metrics and logs.
const (
	TierRouting    = "kb_routing"
	TierFiltering  = "doc_filtering"
	TierRefinement = "chunk_refinement"
)

// documentScanLimit bounds the documents loaded for metadata filtering
const documentScanLimit = 10000

// KnowledgeBaseSource loads the routing view of knowledge bases in the order of ids
type KnowledgeBaseSource interface {
	SelectKnowledgeBases(ctx context.Context, tenantID string, ids []string) ([]*model.KnowledgeBase, error)
}

// DocumentSource loads the documents of knowledge bases
type DocumentSource interface {
	SelectDocumentsByKnowledgeBases(ctx context.Context, kbIDs []string, limit int) ([]*model.Document, error)
}

var (
	_ KnowledgeBaseSource = (*database.KnowledgeBasesDBHandler)(nil)
	_ DocumentSource      = (*database.DocumentsDBHandler)(nil)
)

// Retriever runs the three retrieval tiers in sequence:
// knowledge base routing, document filtering and chunk refinement.
type Retriever struct {
	config  model.RetrievalConfig
	kbs     KnowledgeBaseSource
	docs    DocumentSource
	router  Router
	filter  *DocumentFilter
	refiner *ChunkRefiner
	metrics *helper.Metrics
	log     *slog.Logger
}

// NewRetriever validates config and builds the tiers it describes
func NewRetriever(config model.RetrievalConfig, kbs KnowledgeBaseSource, docs DocumentSource, searcher ChunkSearcher, embeddingDim int, logger *slog.Logger, metrics *helper.Metrics) (*Retriever, error) {
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("retrieval config validation", err)
	}
	if logger == nil {
		logger = helper.NewLogger(os.Stdout, slog.LevelInfo)
	}

	router, err := NewRouter(config.KBRoutingMethod, config.KBRoutingThreshold)
	if err != nil {
		return nil, err
	}
	if llm, ok := router.(*LLMRouter); ok {
		llm.log = logger
	}

	return &Retriever{
		config:  config,
		kbs:     kbs,
		docs:    docs,
		router:  router,
		filter:  NewDocumentFilter(config.EnableMetadataSimilarity, config.MetadataSimilarityThreshold),
		refiner: NewChunkRefiner(searcher, vectorWeight(config), embeddingDim),
		metrics: metrics,
		log:     logger,
	}, nil
}

// SetRouter replaces the router built from the config, for example with an LLMRouter
func (r *Retriever) SetRouter(router Router) {
	if router != nil {
		r.router = router
	}
}

// Config returns the configuration of the retriever
func (r *Retriever) Config() model.RetrievalConfig {
	return r.config
}

// Retrieve narrows kbIDs to the relevant knowledge bases, their documents to the
// ones matching filters and returns the topK best chunks of what is left.
// Zero selected knowledge bases, or zero documents passing explicit filters,
// end the run early with an empty, well-formed result.
func (r *Retriever) Retrieve(ctx context.Context, query string, kbIDs []string, topK int, filters map[string]any) (*model.RetrievalResult, error) {
	result := model.NewRetrievalResult(query)
	start := time.Now()
	defer func() {
		result.TotalTimeMs = millis(time.Since(start))
	}()

	if topK <= 0 {
		topK = r.config.ChunkRefinementTopK
	}
	limit := r.config.MaxCandidatesPerTier

	// Tier 1
	result.States = append(result.States, model.StateTier1Routing)
	tierStart := time.Now()
	kbs, err := r.loadKnowledgeBases(ctx, kbIDs)
	if err != nil {
		return nil, helper.NewError("tier 1 routing", err)
	}
	selected := idsOf(kbs)
	if r.config.EnableKBRouting && len(kbs) > 0 {
		selected, err = r.router.Route(ctx, query, kbs, r.config.KBTopK)
		if err != nil {
			return nil, helper.NewError("tier 1 routing", err)
		}
	}
	selected = firstN(selected, limit)
	result.SelectedKBs = append(result.SelectedKBs, selected...)
	result.Tier1Candidates = len(selected)
	result.Tier1TimeMs = r.observe(TierRouting, time.Since(tierStart), len(selected))

	if len(selected) == 0 {
		r.log.Warn("No knowledge bases selected", slog.String("query", query))
		result.States = append(result.States, model.StateEarlyExit, model.StateDone)
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Tier 2
	result.States = append(result.States, model.StateTier2Filtering)
	tierStart = time.Now()
	var docScope []string
	if r.config.EnableDocFiltering {
		if r.docs == nil {
			return nil, helper.NewError("tier 2 filtering", fmt.Errorf("no document source configured"))
		}
		docs, err := r.docs.SelectDocumentsByKnowledgeBases(ctx, selected, documentScanLimit)
		if err != nil {
			return nil, helper.NewError("tier 2 filtering", err)
		}
		filtered := r.filter.Filter(query, docs, r.config.MetadataFields, filters)
		ids := firstN(documentIDs(filtered), limit)
		result.FilteredDocs = append(result.FilteredDocs, ids...)
		if len(filters) > 0 {
			docScope = ids
		}
	}
	result.Tier2Candidates = len(result.FilteredDocs)
	result.Tier2TimeMs = r.observe(TierFiltering, time.Since(tierStart), result.Tier2Candidates)

	if r.config.EnableDocFiltering && len(filters) > 0 && len(docScope) == 0 {
		r.log.Warn("No documents passed filtering", slog.String("query", query))
		result.States = append(result.States, model.StateEarlyExit, model.StateDone)
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Tier 3
	result.States = append(result.States, model.StateTier3Refinement)
	tierStart = time.Now()
	chunks, err := r.refiner.Refine(ctx, query, tenantIDsOf(kbs, selected), selected, docScope, min(topK, limit), r.config.SimilarityThreshold)
	if err != nil {
		return nil, helper.NewError("tier 3 refinement", err)
	}
	result.RetrievedChunks = append(result.RetrievedChunks, chunks...)
	result.Tier3Candidates = len(chunks)
	result.Tier3TimeMs = r.observe(TierRefinement, time.Since(tierStart), len(chunks))
	result.States = append(result.States, model.StateDone)

	r.log.Info(
		"Hierarchical retrieval completed",
		slog.Int("knowledge_bases", result.Tier1Candidates),
		slog.Int("documents", result.Tier2Candidates),
		slog.Int("chunks", result.Tier3Candidates),
		slog.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// loadKnowledgeBases returns the stored knowledge bases of ids in input order.
// Unknown ids are dropped.
func (r *Retriever) loadKnowledgeBases(ctx context.Context, ids []string) ([]*model.KnowledgeBase, error) {
	if len(ids) == 0 {
		return []*model.KnowledgeBase{}, nil
	}
	if r.kbs == nil {
		return nil, fmt.Errorf("no knowledge base source configured")
	}

	loaded, err := r.kbs.SelectKnowledgeBases(ctx, "", ids)
	if err != nil {
		return nil, err
	}
	byID := map[string]*model.KnowledgeBase{}
	for _, kb := range loaded {
		byID[kb.ID] = kb
	}

	kbs := make([]*model.KnowledgeBase, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if kb, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			kbs = append(kbs, kb)
		} else if !ok {
			r.log.Debug("Skipping unknown knowledge base", slog.String("kb_id", id))
		}
	}
	return kbs, nil
}

func (r *Retriever) observe(tier string, d time.Duration, candidates int) float64 {
	r.metrics.ObserveTier(tier, d, candidates)
	r.log.Debug("Tier finished", slog.String("tier", tier), slog.Int("candidates", candidates), slog.Duration("duration", d))
	return millis(d)
}

func vectorWeight(config model.RetrievalConfig) float64 {
	if !config.EnableHybridSearch {
		return 1
	}
	sum := config.VectorWeight + config.KeywordWeight
	if sum == 0 {
		return 0.7
	}
	return config.VectorWeight / sum
}

func tenantIDsOf(kbs []*model.KnowledgeBase, selected []string) []string {
	keep := map[string]bool{}
	for _, id := range selected {
		keep[id] = true
	}
	seen := map[string]bool{}
	tenants := []string{}
	for _, kb := range kbs {
		if keep[kb.ID] && !seen[kb.TenantID] {
			seen[kb.TenantID] = true
			tenants = append(tenants, kb.TenantID)
		}
	}
	return tenants
}

func millis(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}
