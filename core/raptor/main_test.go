package raptor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/siherrmann/retriever/core/pipeline"
	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return helper.NewLogger(io.Discard, slog.LevelDebug)
}

// fakeChat answers with numbered summaries. Prompts containing failOn fail,
// and the first failFirst calls fail regardless of the prompt.
type fakeChat struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	failOn    string
	answer    string
	prompts   []string
	opts      []pipeline.ChatOptions
}

func (f *fakeChat) Chat(ctx context.Context, system string, messages []pipeline.Message, opts pipeline.ChatOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	prompt := messages[len(messages)-1].Content
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)

	if f.calls <= f.failFirst {
		return "", fmt.Errorf("temporary failure %d", f.calls)
	}
	if f.failOn != "" && strings.Contains(prompt, f.failOn) {
		return "", fmt.Errorf("cannot summarize %q", f.failOn)
	}
	if f.answer != "" {
		return f.answer, nil
	}
	return fmt.Sprintf("summary number %d", f.calls), nil
}

func (f *fakeChat) ModelName() string { return "fake-chat" }

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countingEmbedder wraps a HashEmbedder and counts batches
type countingEmbedder struct {
	*pipeline.HashEmbedder
	mu    sync.Mutex
	calls int
	err   error
}

func (e *countingEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, int, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}
	return e.HashEmbedder.Encode(ctx, texts)
}

func newCountingEmbedder(dim int) *countingEmbedder {
	return &countingEmbedder{HashEmbedder: pipeline.NewHashEmbedder(dim)}
}

func testConfig() model.RaptorConfig {
	config := model.DefaultRaptorConfig()
	config.Workers = 4
	config.MaxRetries = 1
	return config
}

func newTestSummarizer(t *testing.T, config model.RaptorConfig, chat pipeline.ChatModel, embedder pipeline.Embedder) *ClusterSummarizer {
	t.Helper()
	s, err := NewClusterSummarizer(config, chat, embedder, testLogger())
	require.NoError(t, err)
	s.SetBackoff(func(int) time.Duration { return 0 })
	return s
}

// blobLeaves returns two groups of leaves with 2 dimensional embeddings far apart.
// The texts of the second group contain "beta".
func blobLeaves(perBlob int) []model.ClusterNode {
	leaves := []model.ClusterNode{}
	for i := range perBlob {
		offset := float32(i) * 0.01
		leaves = append(leaves, model.ClusterNode{
			Text:      fmt.Sprintf("alpha text %d", i),
			Embedding: []float32{1, offset},
		})
	}
	for i := range perBlob {
		offset := float32(i) * 0.01
		leaves = append(leaves, model.ClusterNode{
			Text:      fmt.Sprintf("beta text %d", i),
			Embedding: []float32{offset, 1},
		})
	}
	return leaves
}

// counterValue sums the counter samples of the metric family name in reg
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
