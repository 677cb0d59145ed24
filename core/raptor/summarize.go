package raptor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/siherrmann/retriever/core/pipeline"
	"github.com/siherrmann/retriever/helper"
)

const systemPrompt = "You're a helpful assistant."

var (
	thinkPrefix      = regexp.MustCompile(`(?s)^.*</think>`)
	truncationNotice = regexp.MustCompile(`(······\n由于长度的原因，回答被截断了，要继续吗？|For the content length reason, it stopped, continue\?)`)
)

// defaultBackoff waits 2^attempt seconds, at most 30 seconds
func defaultBackoff(attempt int) time.Duration {
	return min(time.Duration(1<<min(attempt, 5))*time.Second, 30*time.Second)
}

// summarize truncates texts to the context budget, asks the chat model for a
// summary of them and embeds the result.
func (s *ClusterSummarizer) summarize(ctx context.Context, texts []string) (string, []float32, error) {
	available := max(s.config.MaxLength-s.config.MaxToken-100, 100)
	perText := max(1, available/max(1, len(texts)))

	truncated := make([]string, len(texts))
	for i, text := range texts {
		truncated[i] = s.counter.Truncate(text, perText)
	}
	prompt := strings.ReplaceAll(s.config.Prompt, "{cluster_content}", strings.Join(truncated, "\n"))

	summary, err := s.chatWithRetry(ctx, prompt)
	if err != nil {
		return "", nil, err
	}
	embedding, err := s.embed(ctx, summary)
	if err != nil {
		return "", nil, err
	}
	return summary, embedding, nil
}

// chatWithRetry calls the chat model up to MaxRetries+1 times and waits
// between attempts. A cancelled context stops the retries.
func (s *ClusterSummarizer) chatWithRetry(ctx context.Context, prompt string) (string, error) {
	opts := pipeline.ChatOptions{Temperature: s.config.Temperature, MaxTokens: s.config.MaxToken}
	key := helper.CacheKey(
		"llm",
		s.chat.ModelName(),
		systemPrompt,
		prompt,
		strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
		strconv.Itoa(opts.MaxTokens),
	)
	if cached, ok := s.cacheGet(ctx, key); ok {
		s.metrics.IncCacheHit("llm")
		return cached, nil
	}

	var last error
	for attempt := range s.config.MaxRetries + 1 {
		if attempt > 0 {
			if err := s.wait(ctx, attempt-1); err != nil {
				return "", fmt.Errorf("%w: %w", ErrCanceled, err)
			}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("%w: %w", ErrCanceled, err)
			}
		}

		answer, err := s.chat.Chat(ctx, systemPrompt, []pipeline.Message{{Role: "user", Content: prompt}}, opts)
		if err == nil {
			answer, err = cleanSummary(answer)
		}
		if err == nil {
			s.metrics.IncLLMCall("success")
			s.cacheSet(ctx, key, answer)
			return answer, nil
		}

		s.metrics.IncLLMCall("failure")
		last = err
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
		s.log.Warn("Summary attempt failed", slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
	}
	return "", fmt.Errorf("%w: after %d attempts: %w", ErrLLM, s.config.MaxRetries+1, last)
}

func (s *ClusterSummarizer) wait(ctx context.Context, attempt int) error {
	d := s.backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// cleanSummary strips reasoning prefixes and truncation notices from an answer
func cleanSummary(answer string) (string, error) {
	answer = thinkPrefix.ReplaceAllString(answer, "")
	if strings.Contains(answer, "**ERROR**") {
		return "", fmt.Errorf("chat model returned an error: %s", strings.TrimSpace(answer))
	}
	answer = strings.TrimSpace(truncationNotice.ReplaceAllString(answer, ""))
	if answer == "" {
		return "", fmt.Errorf("chat model returned an empty summary")
	}
	return answer, nil
}

// embed encodes a summary and checks that the vector is usable
func (s *ClusterSummarizer) embed(ctx context.Context, text string) ([]float32, error) {
	key := helper.CacheKey("embedding", s.embedder.ModelName(), text)
	if cached, ok := s.cacheGet(ctx, key); ok {
		var vector []float32
		if err := json.Unmarshal([]byte(cached), &vector); err == nil && validVector(vector) {
			s.metrics.IncCacheHit("embedding")
			return vector, nil
		}
	}

	vectors, _, err := s.embedder.Encode(ctx, []string{text})
	if err != nil {
		s.metrics.IncEmbeddingCall("failure")
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vectors) == 0 || !validVector(vectors[0]) {
		s.metrics.IncEmbeddingCall("failure")
		return nil, fmt.Errorf("%w: embedder returned an empty or non-finite vector", ErrEmbedding)
	}
	s.metrics.IncEmbeddingCall("success")

	if raw, err := json.Marshal(vectors[0]); err == nil {
		s.cacheSet(ctx, key, string(raw))
	}
	return vectors[0], nil
}

func (s *ClusterSummarizer) cacheGet(ctx context.Context, key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	value, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Debug("Cache lookup failed", slog.String("error", err.Error()))
		return "", false
	}
	return value, ok
}

func (s *ClusterSummarizer) cacheSet(ctx context.Context, key string, value string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		s.log.Debug("Cache store failed", slog.String("error", err.Error()))
	}
}

func validVector(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}
