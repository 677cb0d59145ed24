package search

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var (
	alphaOnly = regexp.MustCompile(`^[a-zA-Z]+$`)

	questionWords = []*regexp.Regexp{
		regexp.MustCompile(`(?i)是*(怎么办|什么样的|哪家|一下|那家|请问|啥样|咋样了|什么时候|何时|何地|何人|是否|是不是|多少|哪里|怎么|哪儿|怎么样|如何|哪些|是啥|啥是|啊|吗|呢|吧|咋|什么|有没有|呀|谁|哪位|哪个)是*`),
		regexp.MustCompile(`(?i)(^| )(what|who|how|which|where|why)('re|'s)? `),
		regexp.MustCompile(`(?i)(^| )('s|'re|is|are|were|was|do|does|did|don't|doesn't|didn't|has|have|be|there|you|me|your|my|mine|just|please|may|i|should|would|wouldn't|will|won't|done|go|for|with|so|the|a|an|by|i'm|it's|he's|she's|they|they're|you're|as|by|on|in|at|up|out|down|of|to|or|and|if) `),
	}
)

// Tokenizer splits mixed Latin and CJK text into index tokens.
// Latin text is split into lowercase alphanumeric words. CJK runs are split
// into overlapping bigrams, single runes stay as they are.
// A Tokenizer has no state and is safe for concurrent use.
type Tokenizer struct{}

// NewTokenizer creates a new tokenizer
func NewTokenizer() *Tokenizer {
	return &Tokenizer{}
}

// Normalize applies NFKC, folds full-width to half-width characters and lowercases
func (t *Tokenizer) Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = width.Fold.String(text)
	// a Caser is stateful and must not be shared
	return cases.Lower(language.Und).String(text)
}

// Tokenize returns the coarse tokens of text
func (t *Tokenizer) Tokenize(text string) []string {
	tokens := []string{}
	for _, run := range t.runs(t.Normalize(text)) {
		if !isCJK(run[0]) {
			tokens = append(tokens, string(run))
			continue
		}
		if len(run) == 1 {
			tokens = append(tokens, string(run))
			continue
		}
		for i := 0; i+1 < len(run); i++ {
			tokens = append(tokens, string(run[i:i+2]))
		}
	}
	return tokens
}

// FineGrained splits coarse tokens further. CJK tokens become single runes and
// Latin tokens mixing letters and digits are split at letter/digit changes.
func (t *Tokenizer) FineGrained(tokens []string) []string {
	fine := []string{}
	for _, token := range tokens {
		runes := []rune(token)
		if len(runes) == 0 {
			continue
		}
		if isCJK(runes[0]) {
			for _, r := range runes {
				fine = append(fine, string(r))
			}
			continue
		}

		start := 0
		for i := 1; i <= len(runes); i++ {
			if i == len(runes) || unicode.IsDigit(runes[i]) != unicode.IsDigit(runes[i-1]) {
				fine = append(fine, string(runes[start:i]))
				start = i
			}
		}
	}
	return fine
}

// runs splits normalized text into maximal runs of one script class
func (t *Tokenizer) runs(text string) [][]rune {
	var runs [][]rune
	var current []rune
	currentCJK := false

	for _, r := range text {
		cjk := isCJK(r)
		word := cjk || unicode.IsLetter(r) || unicode.IsDigit(r)
		if !word || (len(current) > 0 && cjk != currentCJK) {
			if len(current) > 0 {
				runs = append(runs, current)
				current = nil
			}
		}
		if word {
			current = append(current, r)
			currentCJK = cjk
		}
	}
	if len(current) > 0 {
		runs = append(runs, current)
	}
	return runs
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

// IsChinese reports whether a line is mostly non-Latin.
// Lines with at most three fields count as Chinese.
func IsChinese(line string) bool {
	fields := strings.Fields(line)
	if len(fields) <= 3 {
		return true
	}
	nonAlpha := 0
	for _, f := range fields {
		if !alphaOnly.MatchString(f) {
			nonAlpha++
		}
	}
	return float64(nonAlpha)/float64(len(fields)) >= 0.7
}

// RmWWW removes question words and stop words. If nothing is left the input is returned.
func RmWWW(text string) string {
	original := text
	for _, re := range questionWords {
		text = re.ReplaceAllString(text, " ")
	}
	if strings.TrimSpace(text) == "" {
		return original
	}
	return text
}
