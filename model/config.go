package model

import (
	"os"

	"github.com/siherrmann/retriever/helper"
	"gopkg.in/yaml.v3"
)

// Routing methods understood by the knowledge base router.
const (
	RoutingAll       = "all"
	RoutingRuleBased = "rule_based"
	RoutingLLMBased  = "llm_based"
	RoutingAuto      = "auto"
)

// SearchConfig represents configuration for a hybrid search or paged retrieval
type SearchConfig struct {
	Page                   int      `json:"page" yaml:"page" validate:"gte=1"`
	Size                   int      `json:"size" yaml:"size" validate:"gte=1"`
	TopK                   int      `json:"top_k" yaml:"top_k" validate:"gte=1"`
	SimilarityThreshold    float64  `json:"similarity_threshold" yaml:"similarity_threshold" validate:"gte=0,lte=1"`
	VectorSimilarityWeight float64  `json:"vector_similarity_weight" yaml:"vector_similarity_weight" validate:"gte=0,lte=1"`
	KbIDs                  []string `json:"kb_ids,omitempty" yaml:"kb_ids,omitempty"`
	DocIDs                 []string `json:"doc_ids,omitempty" yaml:"doc_ids,omitempty"`
	TenantIDs              []string `json:"tenant_ids,omitempty" yaml:"tenant_ids,omitempty"`
	Highlight              bool     `json:"highlight" yaml:"highlight"`
	// EmbeddingDim must match the dimension the chunk store was created with.
	EmbeddingDim int `json:"embedding_dim,omitempty" yaml:"embedding_dim,omitempty" validate:"gte=0"`
}

// DefaultSearchConfig returns the default configuration for paged retrieval
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Page:                   1,
		Size:                   30,
		TopK:                   1024,
		SimilarityThreshold:    0.2,
		VectorSimilarityWeight: 0.3,
		Highlight:              false,
	}
}

// RetrievalConfig configures the three tiers of hierarchical retrieval.
// A config is never mutated by the retriever.
type RetrievalConfig struct {
	// Tier 1: knowledge base routing
	EnableKBRouting    bool    `json:"enable_kb_routing" yaml:"enable_kb_routing"`
	KBRoutingMethod    string  `json:"kb_routing_method" yaml:"kb_routing_method" validate:"oneof=all rule_based llm_based auto"`
	KBRoutingThreshold float64 `json:"kb_routing_threshold" yaml:"kb_routing_threshold" validate:"gte=0,lte=1"`
	KBTopK             int     `json:"kb_top_k" yaml:"kb_top_k" validate:"gte=1"`

	// Tier 2: document filtering
	EnableDocFiltering          bool     `json:"enable_doc_filtering" yaml:"enable_doc_filtering"`
	MetadataFields              []string `json:"metadata_fields" yaml:"metadata_fields"`
	EnableMetadataSimilarity    bool     `json:"enable_metadata_similarity" yaml:"enable_metadata_similarity"`
	MetadataSimilarityThreshold float64  `json:"metadata_similarity_threshold" yaml:"metadata_similarity_threshold" validate:"gte=0,lte=1"`

	// Tier 3: chunk refinement
	ChunkRefinementTopK int `json:"chunk_refinement_top_k" yaml:"chunk_refinement_top_k" validate:"gte=1"`

	// General
	MaxCandidatesPerTier int     `json:"max_candidates_per_tier" yaml:"max_candidates_per_tier" validate:"gte=1"`
	EnableHybridSearch   bool    `json:"enable_hybrid_search" yaml:"enable_hybrid_search"`
	VectorWeight         float64 `json:"vector_weight" yaml:"vector_weight" validate:"gte=0,lte=1"`
	KeywordWeight        float64 `json:"keyword_weight" yaml:"keyword_weight" validate:"gte=0,lte=1"`
	SimilarityThreshold  float64 `json:"similarity_threshold" yaml:"similarity_threshold" validate:"gte=0,lte=1"`
}

// DefaultRetrievalConfig returns the default hierarchical retrieval configuration
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		EnableKBRouting:             true,
		KBRoutingMethod:             RoutingAuto,
		KBRoutingThreshold:          0.5,
		KBTopK:                      3,
		EnableDocFiltering:          true,
		MetadataFields:              []string{},
		EnableMetadataSimilarity:    false,
		MetadataSimilarityThreshold: 0.7,
		ChunkRefinementTopK:         10,
		MaxCandidatesPerTier:        100,
		EnableHybridSearch:          true,
		VectorWeight:                0.7,
		KeywordWeight:               0.3,
		SimilarityThreshold:         0.2,
	}
}

// Validate checks the config against its constraints.
func (c RetrievalConfig) Validate() error {
	return helper.ValidateStruct(c)
}

// RetrievalConfigFromYAML reads a YAML file on top of the defaults and validates the result.
func RetrievalConfigFromYAML(path string) (RetrievalConfig, error) {
	config := DefaultRetrievalConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, helper.NewError("read retrieval config", err)
	}

	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return config, helper.NewError("parse retrieval config", err)
	}

	err = config.Validate()
	if err != nil {
		return config, helper.NewError("validate retrieval config", err)
	}

	return config, nil
}

// RaptorConfig configures recursive cluster summarization
type RaptorConfig struct {
	MaxCluster  int     `json:"max_cluster" yaml:"max_cluster" validate:"gte=1,lte=1024"`
	MaxToken    int     `json:"max_token" yaml:"max_token" validate:"gte=1,lte=2048"`
	Threshold   float64 `json:"threshold" yaml:"threshold" validate:"gte=0,lte=1"`
	Prompt      string  `json:"prompt" yaml:"prompt" validate:"required,contains={cluster_content}"`
	Seed        int64   `json:"random_seed" yaml:"random_seed"`
	MaxRetries  int     `json:"max_retries" yaml:"max_retries" validate:"gte=0,lte=10"`
	MaxChunks   int     `json:"max_chunks" yaml:"max_chunks" validate:"gte=1"`
	MaxLayers   int     `json:"max_layers" yaml:"max_layers" validate:"gte=1"`
	Workers     int     `json:"workers" yaml:"workers" validate:"gte=1"`
	MaxLength   int     `json:"max_length" yaml:"max_length" validate:"gte=1"`
	ChatRPS     float64 `json:"chat_rps" yaml:"chat_rps" validate:"gte=0"` // 0 disables rate limiting
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
}

// DefaultRaptorPrompt asks for a summary of one cluster
const DefaultRaptorPrompt = `Please summarize the following paragraphs. Be careful with the numbers, do not make things up. Paragraphs as following:
      {cluster_content}
The above is the content you need to summarize.`

// DefaultRaptorConfig returns the default configuration for summary tree building
func DefaultRaptorConfig() RaptorConfig {
	return RaptorConfig{
		MaxCluster:  64,
		MaxToken:    512,
		Threshold:   0.1,
		Prompt:      DefaultRaptorPrompt,
		Seed:        224,
		MaxRetries:  3,
		MaxChunks:   10000,
		MaxLayers:   10,
		Workers:     12,
		MaxLength:   8192,
		ChatRPS:     0,
		Temperature: 0.3,
	}
}

// Validate checks the config against its constraints.
func (c RaptorConfig) Validate() error {
	return helper.ValidateStruct(c)
}
