package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
	"github.com/siherrmann/retriever/sql"
)

// DocumentsDBHandlerFunctions defines the interface for Documents database operations.
type DocumentsDBHandlerFunctions interface {
	InsertDocument(ctx context.Context, doc *model.Document) error
	SelectDocument(ctx context.Context, id string) (*model.Document, error)
	SelectDocumentsByKnowledgeBases(ctx context.Context, kbIDs []string, limit int) ([]*model.Document, error)
	UpdateDocument(ctx context.Context, doc *model.Document) error
	DeleteDocument(ctx context.Context, id string) error
}

// DocumentsDBHandler handles document-related database operations
type DocumentsDBHandler struct {
	db *helper.Database
}

// NewDocumentsDBHandler creates a new documents database handler.
// It initializes the database connection and loads document-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewDocumentsDBHandler(db *helper.Database, force bool) (*DocumentsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	documentsDbHandler := &DocumentsDBHandler{
		db: db,
	}

	err := sql.LoadDocumentsSql(documentsDbHandler.db.Instance(), force)
	if err != nil {
		return nil, helper.NewError("load documents sql", err)
	}

	err = documentsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized DocumentsDBHandler")

	return documentsDbHandler, nil
}

// CreateTable creates the 'documents' table in the database.
// If the table already exists, it does not create it again.
func (h *DocumentsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance().ExecContext(ctx, `SELECT init_documents();`)
	if err != nil {
		return helper.NewError("init documents", err)
	}

	h.db.Logger.Info("Checked/created table documents")

	return nil
}

// InsertDocument inserts a new document. An empty id is replaced by a fresh uuid.
func (h *DocumentsDBHandler) InsertDocument(ctx context.Context, doc *model.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Metadata == nil {
		doc.Metadata = model.Metadata{}
	}

	row := h.db.Instance().QueryRowContext(ctx,
		`SELECT * FROM insert_document($1, $2, $3, $4, $5, $6)`,
		doc.ID,
		doc.KbID,
		doc.Name,
		doc.Source,
		doc.Metadata,
		doc.Pagerank,
	)

	err := scanDocument(row, doc)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectDocument retrieves a document by id
func (h *DocumentsDBHandler) SelectDocument(ctx context.Context, id string) (*model.Document, error) {
	row := h.db.Instance().QueryRowContext(ctx,
		`SELECT * FROM select_document($1)`,
		id,
	)

	doc := &model.Document{}
	err := scanDocument(row, doc)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return doc, nil
}

// SelectDocumentsByKnowledgeBases retrieves up to limit documents of the given knowledge bases
func (h *DocumentsDBHandler) SelectDocumentsByKnowledgeBases(ctx context.Context, kbIDs []string, limit int) ([]*model.Document, error) {
	rows, err := h.db.Instance().QueryContext(ctx,
		`SELECT * FROM select_documents_by_knowledge_bases($1, $2)`,
		pq.Array(nonNil(kbIDs)),
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	docs := []*model.Document{}
	for rows.Next() {
		doc := &model.Document{}
		err := scanDocument(rows, doc)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		docs = append(docs, doc)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return docs, nil
}

// UpdateDocument updates name, metadata and pagerank of a document
func (h *DocumentsDBHandler) UpdateDocument(ctx context.Context, doc *model.Document) error {
	row := h.db.Instance().QueryRowContext(ctx,
		`SELECT * FROM update_document($1, $2, $3, $4)`,
		doc.ID,
		doc.Name,
		doc.Metadata,
		doc.Pagerank,
	)

	err := scanDocument(row, doc)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// DeleteDocument deletes a document and, by cascade, its chunks
func (h *DocumentsDBHandler) DeleteDocument(ctx context.Context, id string) error {
	_, err := h.db.Instance().ExecContext(ctx,
		`SELECT delete_document($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

func scanDocument(s scanner, doc *model.Document) error {
	return s.Scan(
		&doc.ID,
		&doc.KbID,
		&doc.Name,
		&doc.Source,
		&doc.Metadata,
		&doc.Pagerank,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
}
