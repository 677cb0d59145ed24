package search

import (
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/siherrmann/retriever/model"
)

var (
	numberTerm      = regexp.MustCompile(`^[0-9,.]{2,}$`)
	shortLetterTerm = regexp.MustCompile(`^[a-z]{1,2}$`)
	numSpaceTerm    = regexp.MustCompile(`^[0-9. -]{2,}$`)
	letterTerm      = regexp.MustCompile(`^[a-z. -]+$`)
	leadingNumber   = regexp.MustCompile(`^[0-9-]+`)
	singleLetter    = regexp.MustCompile(`^[a-zA-Z]$`)
)

// TermWeighter estimates the importance of query terms without corpus statistics.
// Frequencies and document frequencies are heuristics on the shape of a term.
type TermWeighter struct {
	tokenizer *Tokenizer
}

// NewTermWeighter creates a new term weighter
func NewTermWeighter(tokenizer *Tokenizer) *TermWeighter {
	return &TermWeighter{tokenizer: tokenizer}
}

// Weights returns one weight per token, normalized to sum 1.
func (w *TermWeighter) Weights(tokens []string) []model.WeightedTerm {
	weights := make([]model.WeightedTerm, 0, len(tokens))
	sum := 0.0
	for _, t := range tokens {
		weight := (0.3*idf(w.freq(t), 1e7) + 0.7*idf(w.df(t), 1e9)) * ner(t) * postag(t)
		weights = append(weights, model.WeightedTerm{Term: t, Weight: weight})
		sum += weight
	}

	if sum > 0 {
		for i := range weights {
			weights[i].Weight /= sum
		}
	}
	return weights
}

func idf(s, n float64) float64 {
	return math.Log10(10 + (n-s+0.5)/(s+0.5))
}

func ner(t string) float64 {
	if numberTerm.MatchString(t) {
		return 2
	}
	if shortLetterTerm.MatchString(t) {
		return 0.01
	}
	return 1
}

func postag(t string) float64 {
	if leadingNumber.MatchString(t) {
		return 2
	}
	if singleLetter.MatchString(t) {
		return 0.3
	}
	if utf8.RuneCountInString(t) >= 2 && !letterTerm.MatchString(t) {
		return 2
	}
	return 1
}

func (w *TermWeighter) freq(t string) float64 {
	if numSpaceTerm.MatchString(t) {
		return 3
	}
	if letterTerm.MatchString(t) && len(t) >= 4 {
		return 300
	}
	if parts := w.longParts(t); len(parts) > 1 {
		lowest := math.Inf(1)
		for _, p := range parts {
			lowest = math.Min(lowest, w.freq(p))
		}
		return lowest / 6
	}
	return 10
}

func (w *TermWeighter) df(t string) float64 {
	if numSpaceTerm.MatchString(t) {
		return 5
	}
	if letterTerm.MatchString(t) {
		return 300
	}
	if parts := w.longParts(t); len(parts) > 1 {
		lowest := math.Inf(1)
		for _, p := range parts {
			lowest = math.Min(lowest, w.df(p))
		}
		return math.Max(3, lowest/6)
	}
	return 3
}

// longParts splits terms of four or more runes into their multi-rune sub tokens
func (w *TermWeighter) longParts(t string) []string {
	if utf8.RuneCountInString(t) < 4 || w.tokenizer == nil {
		return nil
	}
	parts := []string{}
	for _, p := range w.tokenizer.Tokenize(t) {
		if utf8.RuneCountInString(p) > 1 && p != t {
			parts = append(parts, p)
		}
	}
	return parts
}
