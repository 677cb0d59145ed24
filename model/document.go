package model

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Document is a source document inside a knowledge base
type Document struct {
	ID        string    `json:"id"`
	KbID      string    `json:"kb_id"`
	Name      string    `json:"name"`
	Source    string    `json:"source,omitempty"`
	Content   string    `json:"content,omitempty" db:"-"` // Only used while indexing, not stored
	Metadata  Metadata  `json:"metadata,omitempty"`
	Pagerank  float64   `json:"pagerank,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDocument creates a document with a fresh id.
func NewDocument(kbID string, name string, content string, metadata Metadata) *Document {
	return &Document{
		ID:       uuid.NewString(),
		KbID:     kbID,
		Name:     name,
		Content:  content,
		Metadata: metadata,
	}
}

// NewDocumentFromFile reads a file and creates a Document with the file content.
// The name defaults to the filename without extension.
func NewDocumentFromFile(kbID string, filePath string, metadata Metadata) (*Document, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(filePath)
	name := filename[:len(filename)-len(filepath.Ext(filename))]
	if name == "" {
		name = filename
	}

	doc := NewDocument(kbID, name, string(content), metadata)
	doc.Source = filePath
	return doc, nil
}

// KnowledgeBase is the routing view of a knowledge base.
type KnowledgeBase struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	EmbeddingDim int       `json:"embedding_dim"`
	CreatedAt    time.Time `json:"created_at"`
}
