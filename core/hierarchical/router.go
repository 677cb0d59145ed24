package hierarchical

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/siherrmann/retriever/core/pipeline"
	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
)

// Router selects the knowledge bases a query should be answered from.
// Every returned id is taken from kbs. All routers except AllRouter return at most topK ids.
type Router interface {
	Route(ctx context.Context, query string, kbs []*model.KnowledgeBase, topK int) ([]string, error)
}

// AllRouter keeps every knowledge base in input order
type AllRouter struct{}

// Route returns the ids of kbs unchanged, ignoring topK
func (AllRouter) Route(ctx context.Context, query string, kbs []*model.KnowledgeBase, topK int) ([]string, error) {
	return idsOf(kbs), nil
}

// RuleBasedRouter scores knowledge bases by the share of query tokens found in
// their name and description.
type RuleBasedRouter struct {
	Threshold float64
}

// Route keeps the knowledge bases scoring at least Threshold. If none passes, the
// topK best scoring ones are returned, and without any score the first topK.
func (r RuleBasedRouter) Route(ctx context.Context, query string, kbs []*model.KnowledgeBase, topK int) ([]string, error) {
	if len(kbs) == 0 || topK <= 0 {
		return []string{}, nil
	}

	queryTokens := routingTokens(query)
	if len(queryTokens) == 0 {
		return firstN(idsOf(kbs), topK), nil
	}

	type scored struct {
		id    string
		score float64
	}
	scores := make([]scored, 0, len(kbs))
	anyScore := false
	for _, kb := range kbs {
		score := overlap(queryTokens, routingTokens(kb.Name+" "+kb.Description))
		scores = append(scores, scored{id: kb.ID, score: score})
		if score > 0 {
			anyScore = true
		}
	}

	selected := []string{}
	for _, s := range scores {
		if s.score >= r.Threshold && s.score > 0 {
			selected = append(selected, s.id)
		}
	}
	if len(selected) > 0 {
		return firstN(selected, topK), nil
	}
	if !anyScore {
		return firstN(idsOf(kbs), topK), nil
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	fallback := make([]string, 0, topK)
	for _, s := range scores {
		if len(fallback) == topK {
			break
		}
		fallback = append(fallback, s.id)
	}
	return fallback, nil
}

// KBSelector picks knowledge bases for a query, for example with a language model
type KBSelector interface {
	Select(ctx context.Context, query string, kbs []*model.KnowledgeBase, topK int) ([]string, error)
}

// LLMRouter routes with a Selector and falls back to rule based routing when
// no selector is set, the selector fails or it selects nothing usable.
type LLMRouter struct {
	Selector KBSelector
	Fallback RuleBasedRouter
	log      *slog.Logger
}

// NewLLMRouter creates an llm router with a rule based fallback
func NewLLMRouter(selector KBSelector, threshold float64, logger *slog.Logger) *LLMRouter {
	if logger == nil {
		logger = helper.NewLogger(os.Stdout, slog.LevelInfo)
	}
	return &LLMRouter{
		Selector: selector,
		Fallback: RuleBasedRouter{Threshold: threshold},
		log:      logger,
	}
}

// Route asks the selector and keeps only known ids, at most topK
func (r *LLMRouter) Route(ctx context.Context, query string, kbs []*model.KnowledgeBase, topK int) ([]string, error) {
	if r.Selector == nil || len(kbs) == 0 {
		return r.Fallback.Route(ctx, query, kbs, topK)
	}

	ids, err := r.Selector.Select(ctx, query, kbs, topK)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if r.log != nil {
			r.log.Warn("Knowledge base selection failed, using rule based routing", slog.String("error", err.Error()))
		}
		return r.Fallback.Route(ctx, query, kbs, topK)
	}

	known := map[string]bool{}
	for _, kb := range kbs {
		known[kb.ID] = true
	}
	selected := []string{}
	seen := map[string]bool{}
	for _, id := range ids {
		if known[id] && !seen[id] {
			seen[id] = true
			selected = append(selected, id)
		}
	}
	if len(selected) == 0 {
		return r.Fallback.Route(ctx, query, kbs, topK)
	}
	return firstN(selected, topK), nil
}

// AutoRouter uses Short for short queries and the stricter Long router for
// queries with more than LongQueryTokens tokens.
type AutoRouter struct {
	Short           Router
	Long            Router
	LongQueryTokens int
}

// DefaultLongQueryTokens is the token count above which a query counts as long
const DefaultLongQueryTokens = 8

// NewAutoRouter creates an auto router over two rule based routers. Long queries
// need a threshold raised by 0.2.
func NewAutoRouter(threshold float64) *AutoRouter {
	return &AutoRouter{
		Short:           RuleBasedRouter{Threshold: threshold},
		Long:            RuleBasedRouter{Threshold: min(1, threshold+0.2)},
		LongQueryTokens: DefaultLongQueryTokens,
	}
}

// Route delegates by query length
func (r *AutoRouter) Route(ctx context.Context, query string, kbs []*model.KnowledgeBase, topK int) ([]string, error) {
	if len(routingTokens(query)) > r.LongQueryTokens {
		return r.Long.Route(ctx, query, kbs, topK)
	}
	return r.Short.Route(ctx, query, kbs, topK)
}

// NewRouter maps a routing method to its router. The llm router has no selector
// and routes rule based until one is set.
func NewRouter(method string, threshold float64) (Router, error) {
	switch method {
	case model.RoutingAll:
		return AllRouter{}, nil
	case model.RoutingRuleBased:
		return RuleBasedRouter{Threshold: threshold}, nil
	case model.RoutingLLMBased:
		return NewLLMRouter(nil, threshold, nil), nil
	case model.RoutingAuto, "":
		return NewAutoRouter(threshold), nil
	default:
		return nil, helper.NewError("new router", fmt.Errorf("unknown routing method %q", method))
	}
}

// KBRouter routes by method name
type KBRouter struct {
	Selector KBSelector
}

// Route builds the router for method and routes with it
func (k KBRouter) Route(ctx context.Context, query string, kbs []*model.KnowledgeBase, method string, threshold float64, topK int) ([]string, error) {
	router, err := NewRouter(method, threshold)
	if err != nil {
		return nil, err
	}
	if llm, ok := router.(*LLMRouter); ok {
		llm.Selector = k.Selector
	}
	return router.Route(ctx, query, kbs, topK)
}

const selectorPrompt = `You route questions to knowledge bases. Answer with the ids of the knowledge bases that can answer the question, most relevant first, separated by commas. Answer with at most %d ids and nothing else.

Knowledge bases:
%s
Question: %s`

// ChatSelector selects knowledge bases by asking a chat model
type ChatSelector struct {
	Chat pipeline.ChatModel
}

// Select lists the knowledge bases in a prompt and parses the ids of the answer
func (s ChatSelector) Select(ctx context.Context, query string, kbs []*model.KnowledgeBase, topK int) ([]string, error) {
	if s.Chat == nil {
		return nil, helper.NewError("select knowledge bases", fmt.Errorf("chat model is nil"))
	}

	var list strings.Builder
	for _, kb := range kbs {
		fmt.Fprintf(&list, "- %s: %s. %s\n", kb.ID, kb.Name, kb.Description)
	}

	answer, err := s.Chat.Chat(ctx, "You're a helpful assistant.", []pipeline.Message{
		{Role: "user", Content: fmt.Sprintf(selectorPrompt, topK, list.String(), query)},
	}, pipeline.ChatOptions{Temperature: 0})
	if err != nil {
		return nil, helper.NewError("select knowledge bases", err)
	}

	ids := []string{}
	for _, field := range strings.FieldsFunc(answer, func(r rune) bool {
		return r == ',' || r == '\n' || r == ' ' || r == ';'
	}) {
		id := strings.Trim(field, "-*`'\".[]")
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// routingTokens lowercases and splits on whitespace, trimming punctuation
func routingTokens(text string) []string {
	seen := map[string]bool{}
	tokens := []string{}
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?()[]{}\"'")
		if token != "" && !seen[token] {
			seen[token] = true
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func overlap(query []string, kb []string) float64 {
	if len(query) == 0 {
		return 0
	}
	set := map[string]bool{}
	for _, t := range kb {
		set[t] = true
	}
	hits := 0
	for _, t := range query {
		if set[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

func idsOf(kbs []*model.KnowledgeBase) []string {
	ids := make([]string, 0, len(kbs))
	for _, kb := range kbs {
		ids = append(ids, kb.ID)
	}
	return ids
}

func firstN(ids []string, n int) []string {
	if n >= 0 && len(ids) > n {
		return ids[:n]
	}
	return ids
}
