package pipeline

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used for token budgets
const DefaultEncoding = "cl100k_base"

// TokenCounter counts and truncates text in model tokens
type TokenCounter interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// TiktokenCounter counts tokens with a BPE encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base".
// The encoding file is fetched once and cached by tiktoken-go.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{encoding: enc}, nil
}

// DefaultTokenCounter returns a cl100k_base counter, or a WordCounter when
// the encoding cannot be loaded.
func DefaultTokenCounter() TokenCounter {
	counter, err := NewTiktokenCounter(DefaultEncoding)
	if err != nil {
		return NewWordCounter()
	}
	return counter
}

// Count returns the number of tokens of text
func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.EncodeOrdinary(text))
}

// Truncate cuts text to at most maxTokens tokens
func (c *TiktokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := c.encoding.EncodeOrdinary(text)
	if len(tokens) <= maxTokens {
		return text
	}
	return c.encoding.Decode(tokens[:maxTokens])
}

// WordCounter approximates tokens by whitespace separated words. It needs no
// encoding file and is used when tiktoken cannot be loaded.
type WordCounter struct{}

// NewWordCounter returns a WordCounter
func NewWordCounter() *WordCounter {
	return &WordCounter{}
}

// Count returns the number of words of text
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// Truncate keeps the first maxTokens words
func (WordCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}
