package raptor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/siherrmann/retriever/core/pipeline"
	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ClusterSummarizer builds a summary tree over chunk embeddings. Every level is
// reduced, clustered with a gaussian mixture and each cluster is summarized by
// the chat model. Summaries are embedded and clustered again until one node is left.
type ClusterSummarizer struct {
	config   model.RaptorConfig
	chat     pipeline.ChatModel
	embedder pipeline.Embedder
	counter  pipeline.TokenCounter
	cache    helper.Cache
	limiter  *rate.Limiter
	backoff  func(attempt int) time.Duration
	metrics  *helper.Metrics
	log      *slog.Logger
}

// clusterResult is the outcome of one cluster of a level
type clusterResult struct {
	node model.ClusterNode
	err  error
}

// NewClusterSummarizer validates config and creates a summarizer
func NewClusterSummarizer(config model.RaptorConfig, chat pipeline.ChatModel, embedder pipeline.Embedder, logger *slog.Logger) (*ClusterSummarizer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if chat == nil || embedder == nil {
		return nil, fmt.Errorf("%w: chat model and embedder are required", ErrValidation)
	}
	if logger == nil {
		logger = helper.NewLogger(os.Stdout, slog.LevelInfo)
	}

	s := &ClusterSummarizer{
		config:   config,
		chat:     chat,
		embedder: embedder,
		counter:  pipeline.NewWordCounter(),
		backoff:  defaultBackoff,
		log:      logger,
	}
	if config.ChatRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.ChatRPS), max(1, int(math.Ceil(config.ChatRPS))))
	}
	return s, nil
}

// SetCache enables caching of summaries and their embeddings
func (s *ClusterSummarizer) SetCache(cache helper.Cache) {
	s.cache = cache
}

func (s *ClusterSummarizer) SetMetrics(metrics *helper.Metrics) {
	s.metrics = metrics
}

// SetTokenCounter replaces the word based counter used to truncate cluster texts
func (s *ClusterSummarizer) SetTokenCounter(counter pipeline.TokenCounter) {
	if counter != nil {
		s.counter = counter
	}
}

// SetBackoff replaces the wait between summary attempts
func (s *ClusterSummarizer) SetBackoff(backoff func(attempt int) time.Duration) {
	if backoff != nil {
		s.backoff = backoff
	}
}

// Build returns the summary tree over leaves. Nodes start with the valid leaves
// in input order; every level appends its summaries and records its range in Layers.
// Clusters whose summary fails are reported in Failures and left out of the level.
// A level where every cluster fails returns an error wrapping ErrLLM.
func (s *ClusterSummarizer) Build(ctx context.Context, leaves []model.ClusterNode) (*model.ClusterTree, error) {
	if len(leaves) > s.config.MaxChunks {
		return nil, fmt.Errorf("%w: %d chunks exceed the limit of %d", ErrResource, len(leaves), s.config.MaxChunks)
	}

	tree := &model.ClusterTree{Nodes: make([]model.ClusterNode, 0, len(leaves))}
	for i, leaf := range leaves {
		if leaf.Text == "" || !validVector(leaf.Embedding) {
			s.log.Debug("Skipping invalid chunk", slog.Int("index", i))
			continue
		}
		tree.Nodes = append(tree.Nodes, leaf)
	}
	if len(tree.Nodes) <= 1 {
		return &model.ClusterTree{Nodes: tree.Nodes}, nil
	}
	dim := len(tree.Nodes[0].Embedding)
	for _, node := range tree.Nodes {
		if len(node.Embedding) != dim {
			return nil, fmt.Errorf("%w: embeddings have different dimensions %d and %d", ErrValidation, dim, len(node.Embedding))
		}
	}

	start, end := 0, len(tree.Nodes)
	tree.Layers = []model.Layer{{Start: start, End: end}}
	leafCount := end
	buildStart := time.Now()

	for level := 1; end-start > 1 && level <= s.config.MaxLayers; level++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
		}

		clusters, err := s.cluster(tree.Nodes[start:end])
		if err != nil {
			return nil, err
		}
		s.log.Info(
			"Summarizing level",
			slog.Int("level", level),
			slog.Int("nodes", end-start),
			slog.Int("clusters", len(clusters)),
		)

		results := make([]clusterResult, len(clusters))
		var g errgroup.Group
		g.SetLimit(s.config.Workers)
		for c, members := range clusters {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					results[c] = clusterResult{err: err}
					return nil
				}
				texts := make([]string, len(members))
				for i, m := range members {
					texts[i] = tree.Nodes[start+m].Text
				}
				summary, embedding, err := s.summarize(ctx, texts)
				results[c] = clusterResult{node: model.ClusterNode{Text: summary, Embedding: embedding}, err: err}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
		}

		added := 0
		var lastErr error
		for c, result := range results {
			if result.err != nil {
				lastErr = result.err
				members := make([]int, len(clusters[c]))
				for i, m := range clusters[c] {
					members[i] = start + m
				}
				tree.Failures = append(tree.Failures, model.ClusterFailure{
					Layer:   level,
					Cluster: c,
					Members: members,
					Error:   result.err.Error(),
				})
				s.metrics.IncClusterFailure()
				s.log.Warn("Cluster summary failed", slog.Int("level", level), slog.Int("cluster", c), slog.String("error", result.err.Error()))
				continue
			}
			tree.Nodes = append(tree.Nodes, result.node)
			added++
		}
		if added == 0 {
			return nil, fmt.Errorf("%w: every cluster of level %d failed: %w", ErrLLM, level, lastErr)
		}
		if added != len(clusters) {
			s.log.Warn("Level is missing summaries", slog.Int("level", level), slog.Int("expected", len(clusters)), slog.Int("got", added))
		}

		start, end = end, len(tree.Nodes)
		tree.Layers = append(tree.Layers, model.Layer{Start: start, End: end})
	}

	s.metrics.AddSummaries(len(tree.Nodes) - leafCount)
	s.log.Info(
		"Summary tree built",
		slog.Int("leaves", leafCount),
		slog.Int("summaries", len(tree.Nodes)-leafCount),
		slog.Int("layers", len(tree.Layers)),
		slog.Int("failures", len(tree.Failures)),
		slog.Duration("duration", time.Since(buildStart)),
	)
	return tree, nil
}

// cluster groups the nodes of one level. Returned members are indexes into nodes,
// clusters are ordered by label and empty labels are skipped.
func (s *ClusterSummarizer) cluster(nodes []model.ClusterNode) ([][]int, error) {
	if len(nodes) == 2 {
		return [][]int{{0, 1}}, nil
	}

	vectors := make([][]float32, len(nodes))
	for i, node := range nodes {
		vectors[i] = node.Embedding
	}
	points := normalize(vectors)
	if identical(points) {
		return [][]int{allMembers(len(points))}, nil
	}

	reduced, ok := reduce(points)
	s.log.Debug(
		"Reduced level",
		slog.Int("points", len(points)),
		slog.Int("components", len(reduced[0])),
		slog.Int("neighbors", neighbors(len(points))),
		slog.Bool("projected", ok),
	)

	seed := uint64(s.config.Seed)
	k := optimalClusters(reduced, s.config.MaxCluster, seed)
	if k == 1 {
		return [][]int{allMembers(len(points))}, nil
	}

	m, _ := fitMixture(reduced, k, newRand(seed))
	probs := m.probabilities(reduced)
	for _, row := range probs {
		for _, p := range row {
			if math.IsNaN(p) {
				return nil, fmt.Errorf("%w: mixture produced invalid probabilities", ErrClustering)
			}
		}
	}

	labels := assign(probs, s.config.Threshold)
	grouped := make([][]int, k)
	for i, label := range labels {
		grouped[label] = append(grouped[label], i)
	}
	clusters := make([][]int, 0, k)
	for _, members := range grouped {
		if len(members) > 0 {
			clusters = append(clusters, members)
		}
	}
	return clusters, nil
}

func allMembers(n int) []int {
	members := make([]int, n)
	for i := range members {
		members[i] = i
	}
	return members
}
