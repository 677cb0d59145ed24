package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/siherrmann/retriever/helper"
)

// Chunk is the smallest indexed retrieval unit. It belongs to exactly one
// knowledge base. Summary nodes built over a document are stored as chunks too.
type Chunk struct {
	ID                string    `json:"id"`
	TenantIndex       string    `json:"-"`
	KbID              string    `json:"kb_id"`
	DocID             string    `json:"doc_id"`
	DocName           string    `json:"docnm_kwd,omitempty"`
	Content           string    `json:"content_with_weight"`
	ContentTokens     []string  `json:"content_ltks,omitempty"`
	ContentSmTokens   []string  `json:"content_sm_ltks,omitempty"`
	TitleTokens       []string  `json:"title_tks,omitempty"`
	TitleSmTokens     []string  `json:"title_sm_tks,omitempty"`
	ImportantKeywords []string  `json:"important_kwd,omitempty"`
	QuestionTokens    []string  `json:"question_tks,omitempty"`
	Embedding         []float32 `json:"embedding,omitempty"`
	PageNum           []int     `json:"page_num_int,omitempty"`
	Positions         Positions `json:"position_int,omitempty"`
	Pagerank          float64   `json:"pagerank_fea,omitempty"`
	Available         bool      `json:"available_int"`
	CreatedAt         time.Time `json:"create_time"`
	// Results
	Similarity       float64 `json:"similarity,omitempty"`
	TermSimilarity   float64 `json:"term_similarity,omitempty"`
	VectorSimilarity float64 `json:"vector_similarity,omitempty"`
	Highlight        string  `json:"highlight,omitempty"`
}

// Positions holds [page, left, right, top, bottom] boxes of a chunk, stored as JSONB.
type Positions [][]int

// Value implements the driver.Valuer interface for database storage
func (p Positions) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface for database retrieval
func (p *Positions) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return helper.NewError("byte assertion", errors.New("type assertion to []byte failed"))
	}

	return json.Unmarshal(b, p)
}

// Condition selects chunks for update and delete.
type Condition struct {
	IDs   []string `json:"id,omitempty"`
	DocID string   `json:"doc_id,omitempty"`
}

// ChunkChanges are the mutable fields of a chunk. Nil fields are left untouched.
type ChunkChanges struct {
	Pagerank  *float64 `json:"pagerank_fea,omitempty"`
	Available *bool    `json:"available_int,omitempty"`
}
