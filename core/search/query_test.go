package search

import (
	"fmt"
	"strings"
	"testing"

	"github.com/siherrmann/retriever/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func termsOf(expr *model.MatchExpr) []string {
	terms := []string{}
	for _, t := range expr.Terms {
		terms = append(terms, t.Term)
	}
	return terms
}

func TestQueryBuilderQuestion(t *testing.T) {
	qb := NewQueryBuilder(NewTokenizer())

	t.Run("Builds weighted terms over the boosted fields", func(t *testing.T) {
		expr, keywords := qb.Question("What is the vacation policy?", DefaultMinMatch)

		require.NotNil(t, expr)
		assert.Equal(t, QueryFields, expr.Fields)
		assert.Equal(t, DefaultMinMatch, expr.MinimumShouldMatch)
		assert.Equal(t, 1.0, expr.Boost)
		assert.Equal(t, "What is the vacation policy?", expr.Question)
		assert.Contains(t, termsOf(expr), "vacation")
		assert.Contains(t, termsOf(expr), "policy")
		assert.NotContains(t, termsOf(expr), "what")
		assert.Contains(t, keywords, "vacation")

		sum := 0.0
		for _, term := range expr.Terms {
			sum += term.Weight
		}
		assert.InDelta(t, 1.0, sum, 0.5)
	})

	t.Run("Drops single characters", func(t *testing.T) {
		expr, _ := qb.Question("x y vacation", DefaultMinMatch)

		require.NotNil(t, expr)
		assert.Equal(t, []string{"vacation"}, termsOf(expr))
	})

	t.Run("Punctuation only gives no expression", func(t *testing.T) {
		expr, keywords := qb.Question(" ?!. ", DefaultMinMatch)

		assert.Nil(t, expr)
		assert.Empty(t, keywords)
	})

	t.Run("CJK question uses bigrams", func(t *testing.T) {
		expr, keywords := qb.Question("人工智能", DefaultMinMatch)

		require.NotNil(t, expr)
		assert.Equal(t, []string{"人工", "工智", "智能"}, termsOf(expr))
		assert.Equal(t, []string{"人工", "工智", "智能"}, keywords)
	})

	t.Run("Caps terms and keywords", func(t *testing.T) {
		words := make([]string, 300)
		for i := range words {
			words[i] = fmt.Sprintf("w%03d", i)
		}

		expr, keywords := qb.Question(strings.Join(words, " "), RetryMinMatch)

		require.NotNil(t, expr)
		assert.Len(t, expr.Terms, maxQueryTerms)
		assert.Len(t, keywords, maxKeywords)
		assert.Equal(t, RetryMinMatch, expr.MinimumShouldMatch)
	})
}

func TestQueryBuilderKeywords(t *testing.T) {
	qb := NewQueryBuilder(NewTokenizer())

	t.Run("Expands with fine grained tokens of two or more runes", func(t *testing.T) {
		assert.Equal(t, []string{"gpt4", "gpt", "人工"}, qb.Keywords([]string{"gpt4", "人工", "gpt4"}))
	})
}
