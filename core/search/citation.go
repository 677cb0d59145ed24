package search

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/siherrmann/retriever/core/pipeline"
	"github.com/siherrmann/retriever/helper"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	// CitationFloor is the lowest score a span needs to be cited
	CitationFloor = 0.55
	// DefaultCitationThreshold is the first threshold tried before decaying to the floor
	DefaultCitationThreshold = 0.63
	// MaxCitationsPerSpan caps the markers after one span
	MaxCitationsPerSpan = 4

	minSpanLength = 12
	minEmbedSpan  = 5
)

// CitationOptions configures citation insertion
type CitationOptions struct {
	Threshold    float64
	TokenWeight  float64
	VectorWeight float64
}

// DefaultCitationOptions returns threshold 0.63 and weights 0.1/0.9
func DefaultCitationOptions() CitationOptions {
	return CitationOptions{
		Threshold:    DefaultCitationThreshold,
		TokenWeight:  0.1,
		VectorWeight: 0.9,
	}
}

// CitationInserter annotates generated answers with @?idx?@ markers pointing at candidate chunks.
type CitationInserter struct {
	tokenizer *Tokenizer
	reranker  *Reranker
	markdown  goldmark.Markdown
}

// NewCitationInserter creates a new citation inserter
func NewCitationInserter(tokenizer *Tokenizer, reranker *Reranker) *CitationInserter {
	return &CitationInserter{
		tokenizer: tokenizer,
		reranker:  reranker,
		markdown:  goldmark.New(),
	}
}

type span struct {
	text string
	code bool
}

// Insert cites chunk candidates after every answer span that is similar enough to them.
// It returns the annotated answer and the sorted indices of all cited chunks.
func (c *CitationInserter) Insert(ctx context.Context, answer string, chunkVectors [][]float32, chunkTokens [][]string, embedder pipeline.Embedder, opts CitationOptions) (string, []int, error) {
	if len(chunkVectors) != len(chunkTokens) {
		return "", nil, helper.NewError("insert citations", fmt.Errorf("got %d chunk vectors for %d token lists", len(chunkVectors), len(chunkTokens)))
	}
	if len(chunkVectors) == 0 || strings.TrimSpace(answer) == "" {
		return answer, []int{}, nil
	}

	spans := c.split(answer)
	var embedIdx []int
	var texts []string
	for i, s := range spans {
		if !s.code && len([]rune(strings.TrimSpace(s.text))) >= minEmbedSpan {
			embedIdx = append(embedIdx, i)
			texts = append(texts, strings.TrimSpace(s.text))
		}
	}
	if len(texts) == 0 {
		return answer, []int{}, nil
	}

	vectors, _, err := embedder.Encode(ctx, texts)
	if err != nil {
		return "", nil, helper.NewError("embed answer spans", err)
	}
	if len(vectors) != len(texts) {
		return "", nil, helper.NewError("embed answer spans", fmt.Errorf("got %d embeddings for %d spans", len(vectors), len(texts)))
	}
	if len(vectors[0]) != len(chunkVectors[0]) {
		return "", nil, helper.NewError("insert citations", fmt.Errorf("dimension of answer %d and chunks %d do not match", len(vectors[0]), len(chunkVectors[0])))
	}

	threshold := math.Max(opts.Threshold, CitationFloor)
	scores := make([][]float64, len(texts))
	for i, t := range texts {
		tokens := c.tokenizer.Tokenize(RmWWW(t))
		scores[i], _, _ = c.reranker.Rerank(vectors[i], chunkVectors, tokens, chunkTokens, opts.TokenWeight, opts.VectorWeight)
	}

	cites := citeAbove(scores, threshold)

	var out strings.Builder
	cited := map[int]bool{}
	for i, s := range spans {
		out.WriteString(s.text)
		pos := slices.Index(embedIdx, i)
		if pos < 0 {
			continue
		}
		for _, idx := range cites[pos] {
			fmt.Fprintf(&out, " @?%d?@", idx)
			cited[idx] = true
		}
	}

	all := make([]int, 0, len(cited))
	for idx := range cited {
		all = append(all, idx)
	}
	slices.Sort(all)

	return out.String(), all, nil
}

// citeAbove picks, per span, the candidates within 1% of the best score. Each span
// starts at threshold and decays by 0.8 down to the floor until its best score reaches it.
func citeAbove(scores [][]float64, threshold float64) map[int][]int {
	cites := map[int][]int{}
	for i, sims := range scores {
		if len(sims) == 0 {
			continue
		}
		best := slices.Max(sims)
		if best < spanThreshold(best, threshold) {
			continue
		}
		limit := best * 0.99
		for idx, sim := range sims {
			if sim > limit || sim == best {
				cites[i] = append(cites[i], idx)
				if len(cites[i]) >= MaxCitationsPerSpan {
					break
				}
			}
		}
	}
	return cites
}

// split cuts the answer into prose spans and verbatim fenced code blocks
func (c *CitationInserter) split(answer string) []span {
	source := []byte(answer)
	chinese := mostlyCJK(answer)
	var spans []span
	last := 0
	for _, r := range c.codeRanges(source) {
		if r[0] > last {
			spans = append(spans, splitSentences(answer[last:r[0]], chinese)...)
		}
		spans = append(spans, span{text: answer[r[0]:r[1]], code: true})
		last = r[1]
	}
	if last < len(answer) {
		spans = append(spans, splitSentences(answer[last:], chinese)...)
	}
	return spans
}

// codeRanges returns the byte ranges of fenced code blocks including their fence lines
func (c *CitationInserter) codeRanges(source []byte) [][2]int {
	doc := c.markdown.Parser().Parse(text.NewReader(source))

	var ranges [][2]int
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		lines := block.Lines()
		if lines.Len() == 0 {
			return ast.WalkSkipChildren, nil
		}

		start := lineStart(source, lines.At(0).Start)
		if start > 0 {
			start = lineStart(source, start-1)
		}
		stop := lines.At(lines.Len() - 1).Stop
		if stop < len(source) {
			end := lineEnd(source, stop)
			fence := bytes.TrimSpace(source[stop:end])
			if bytes.HasPrefix(fence, []byte("```")) || bytes.HasPrefix(fence, []byte("~~~")) {
				stop = end
			}
		}
		ranges = append(ranges, [2]int{start, stop})
		return ast.WalkSkipChildren, nil
	})
	return ranges
}

// spanThreshold decays threshold until best reaches it or the floor is hit
func spanThreshold(best float64, threshold float64) float64 {
	threshold = math.Max(threshold, CitationFloor)
	for best < threshold && threshold > CitationFloor {
		threshold = math.Max(CitationFloor, threshold*0.8)
	}
	return threshold
}

func lineStart(source []byte, pos int) int {
	return bytes.LastIndexByte(source[:pos], '\n') + 1
}

func lineEnd(source []byte, pos int) int {
	if i := bytes.IndexByte(source[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(source)
}

// mostlyCJK reports whether more than a fifth of the runes of text are CJK
func mostlyCJK(text string) bool {
	total, cjk := 0, 0
	for _, r := range text {
		total++
		if isCJK(r) {
			cjk++
		}
	}
	return total > 0 && float64(cjk)/float64(total) > 0.2
}

func isLatinBoundary(r rune) bool {
	return r == '.' || r == '?' || r == '!' || r == ';'
}

func isCJKBoundary(r rune) bool {
	return r == '。' || r == '？' || r == '！' || r == '；'
}

// splitSentences cuts prose after sentence punctuation: CJK terminal punctuation for
// Chinese text, Latin punctuation otherwise. A boundary needs at least twelve characters
// before it and a Latin boundary must be followed by whitespace or the end.
// Periods between digits and periods right after a newline never end a span.
func splitSentences(prose string, chinese bool) []span {
	runes := []rune(prose)
	var spans []span
	start := 0

	for i, r := range runes {
		if i-start < minSpanLength {
			continue
		}
		var boundary bool
		switch {
		case chinese:
			boundary = isCJKBoundary(r)
		case isLatinBoundary(r):
			next := i+1 == len(runes) || unicode.IsSpace(runes[i+1])
			decimal := r == '.' && i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1])
			afterNewline := r == '.' && i > 0 && runes[i-1] == '\n'
			boundary = next && !decimal && !afterNewline
		}
		if boundary {
			spans = append(spans, span{text: string(runes[start : i+1])})
			start = i + 1
		}
	}
	if start < len(runes) {
		spans = append(spans, span{text: string(runes[start:])})
	}
	return spans
}
