package search

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/siherrmann/retriever/model"
)

const (
	// DefaultMinMatch is the share of query terms a lexical hit must contain
	DefaultMinMatch = 0.3
	// RetryMinMatch is the relaxed share used by the zero-hit retry
	RetryMinMatch = 0.1
	// RetrySimilarity is the similarity floor used by the zero-hit retry
	RetrySimilarity = 0.7
	// LexicalBoost is the weight of the lexical clause next to a kNN clause
	LexicalBoost = 0.05

	maxQueryTerms = 256
	maxKeywords   = 32
)

// QueryFields are the searched chunk fields with their boosts
var QueryFields = []string{
	model.FieldImportantKwd + "^30",
	model.FieldImportantTks + "^20",
	model.FieldQuestionTks + "^20",
	model.FieldTitleTks + "^10",
	model.FieldTitleSmTks + "^5",
	model.FieldContentLtks + "^2",
	model.FieldContentSmLtks,
}

var (
	queryPunctuation = regexp.MustCompile("[ :|\r\n\t,，.。?？/`!！&^%()\\[\\]{}<>]+")
	termNoise        = regexp.MustCompile(`[ "'^]+`)
	singleAlnum      = regexp.MustCompile(`^[a-z0-9]$`)
	leadingSign      = regexp.MustCompile(`^[+\-]+`)
)

// QueryBuilder turns a question into a weighted lexical match expression.
type QueryBuilder struct {
	tokenizer *Tokenizer
	weighter  *TermWeighter
	fields    []string
}

// NewQueryBuilder creates a query builder over the default fields
func NewQueryBuilder(tokenizer *Tokenizer) *QueryBuilder {
	return &QueryBuilder{
		tokenizer: tokenizer,
		weighter:  NewTermWeighter(tokenizer),
		fields:    append([]string(nil), QueryFields...),
	}
}

// Tokenizer returns the tokenizer the builder uses
func (qb *QueryBuilder) Tokenizer() *Tokenizer {
	return qb.tokenizer
}

// Weighter returns the term weighter the builder uses
func (qb *QueryBuilder) Weighter() *TermWeighter {
	return qb.weighter
}

// Question builds the match expression for text and returns the extracted keywords.
// The expression is nil when text holds no searchable term.
func (qb *QueryBuilder) Question(text string, minMatch float64) (*model.MatchExpr, []string) {
	cleaned := queryPunctuation.ReplaceAllString(qb.tokenizer.Normalize(text), " ")
	cleaned = RmWWW(cleaned)

	tokens := qb.tokenizer.Tokenize(cleaned)
	keywords := []string{}
	terms := []model.WeightedTerm{}
	seen := map[string]bool{}

	for _, tw := range qb.weighter.Weights(tokens) {
		term := termNoise.ReplaceAllString(tw.Term, "")
		term = singleAlnum.ReplaceAllString(term, "")
		term = strings.TrimSpace(leadingSign.ReplaceAllString(term, ""))
		if term == "" {
			continue
		}

		if !seen[term] {
			seen[term] = true
			if len(keywords) < maxKeywords {
				keywords = append(keywords, term)
			}
		}
		terms = append(terms, model.WeightedTerm{Term: term, Weight: tw.Weight})
		if len(terms) >= maxQueryTerms {
			break
		}
	}

	if IsChinese(cleaned) {
		for _, fine := range qb.tokenizer.FineGrained(keywords) {
			if len(keywords) >= maxKeywords {
				break
			}
			if utf8.RuneCountInString(fine) < 2 || seen[fine] {
				continue
			}
			seen[fine] = true
			keywords = append(keywords, fine)
		}
	}

	if len(terms) == 0 {
		return nil, keywords
	}

	return &model.MatchExpr{
		Fields:             append([]string(nil), qb.fields...),
		Terms:              terms,
		MinimumShouldMatch: minMatch,
		Boost:              1,
		Question:           text,
	}, keywords
}

// Keywords expands keywords with their fine-grained tokens of at least two runes
func (qb *QueryBuilder) Keywords(keywords []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, k := range keywords {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
		for _, fine := range qb.tokenizer.FineGrained([]string{k}) {
			if utf8.RuneCountInString(fine) < 2 || seen[fine] {
				continue
			}
			seen[fine] = true
			out = append(out, fine)
		}
	}
	return out
}
