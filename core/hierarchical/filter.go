package hierarchical

import (
	"reflect"
	"strings"

	"github.com/siherrmann/retriever/core/search"
	"github.com/siherrmann/retriever/model"
)

// DocumentFilter narrows documents by metadata equality. It never ranks.
type DocumentFilter struct {
	// EnableSimilarity lets string values match by token overlap instead of equality
	EnableSimilarity    bool
	SimilarityThreshold float64
	tokenizer           *search.Tokenizer
}

// NewDocumentFilter creates a document filter
func NewDocumentFilter(enableSimilarity bool, threshold float64) *DocumentFilter {
	return &DocumentFilter{
		EnableSimilarity:    enableSimilarity,
		SimilarityThreshold: threshold,
		tokenizer:           search.NewTokenizer(),
	}
}

// Filter keeps the documents whose metadata equals every filter on the whitelisted
// fields. Filters on other fields are ignored, so an empty whitelist keeps every document.
// Input order is kept.
func (f *DocumentFilter) Filter(query string, docs []*model.Document, fields []string, filters map[string]any) []*model.Document {
	active := model.Metadata(filters).Select(fields)

	out := make([]*model.Document, 0, len(docs))
	if len(active) == 0 {
		return append(out, docs...)
	}

	for _, doc := range docs {
		if f.matches(doc, active) {
			out = append(out, doc)
		}
	}
	return out
}

func (f *DocumentFilter) matches(doc *model.Document, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := doc.Metadata[key]
		if !ok {
			return false
		}
		if !f.valueMatches(got, want) {
			return false
		}
	}
	return true
}

func (f *DocumentFilter) valueMatches(got any, want any) bool {
	if equalValues(got, want) {
		return true
	}

	// A list filter matches any of its values.
	if list, ok := want.([]any); ok {
		for _, w := range list {
			if f.valueMatches(got, w) {
				return true
			}
		}
		return false
	}
	if list, ok := want.([]string); ok {
		for _, w := range list {
			if f.valueMatches(got, w) {
				return true
			}
		}
		return false
	}

	gotString, gotOK := got.(string)
	wantString, wantOK := want.(string)
	if f.EnableSimilarity && gotOK && wantOK {
		return f.similarity(gotString, wantString) >= f.SimilarityThreshold
	}
	return false
}

// similarity is the jaccard overlap of the token sets of a and b
func (f *DocumentFilter) similarity(a string, b string) float64 {
	tokenizer := f.tokenizer
	if tokenizer == nil {
		tokenizer = search.NewTokenizer()
	}
	setA := map[string]bool{}
	for _, t := range tokenizer.Tokenize(a) {
		setA[t] = true
	}
	setB := map[string]bool{}
	for _, t := range tokenizer.Tokenize(b) {
		setB[t] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	return float64(intersection) / float64(len(setA)+len(setB)-intersection)
}

// equalValues compares metadata values the way they come out of JSON: numbers
// compare by value and strings case-insensitively.
func equalValues(a any, b any) bool {
	if af, ok := number(a); ok {
		if bf, ok := number(b); ok {
			return af == bf
		}
		return false
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.EqualFold(strings.TrimSpace(as), strings.TrimSpace(bs))
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func documentIDs(docs []*model.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids
}
