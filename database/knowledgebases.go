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

// KnowledgeBasesDBHandlerFunctions defines the interface for knowledge base database operations.
type KnowledgeBasesDBHandlerFunctions interface {
	InsertKnowledgeBase(ctx context.Context, kb *model.KnowledgeBase) error
	SelectKnowledgeBase(ctx context.Context, id string) (*model.KnowledgeBase, error)
	SelectKnowledgeBases(ctx context.Context, tenantID string, ids []string) ([]*model.KnowledgeBase, error)
	DeleteKnowledgeBase(ctx context.Context, id string) error
}

// KnowledgeBasesDBHandler handles knowledge base related database operations
type KnowledgeBasesDBHandler struct {
	db *helper.Database
}

// NewKnowledgeBasesDBHandler creates a new knowledge bases database handler.
// If force is true, it will reload the SQL functions even if they already exist.
func NewKnowledgeBasesDBHandler(db *helper.Database, force bool) (*KnowledgeBasesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	handler := &KnowledgeBasesDBHandler{
		db: db,
	}

	err := sql.LoadKnowledgeBasesSql(handler.db.Instance(), force)
	if err != nil {
		return nil, helper.NewError("load knowledge bases sql", err)
	}

	err = handler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized KnowledgeBasesDBHandler")

	return handler, nil
}

// CreateTable creates the 'knowledge_bases' table if it does not exist.
func (h *KnowledgeBasesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance().ExecContext(ctx, `SELECT init_knowledge_bases();`)
	if err != nil {
		return helper.NewError("init knowledge bases", err)
	}

	h.db.Logger.Info("Checked/created table knowledge_bases")

	return nil
}

// InsertKnowledgeBase inserts a knowledge base. An empty id is replaced by a fresh uuid.
func (h *KnowledgeBasesDBHandler) InsertKnowledgeBase(ctx context.Context, kb *model.KnowledgeBase) error {
	if kb.ID == "" {
		kb.ID = uuid.NewString()
	}

	row := h.db.Instance().QueryRowContext(ctx,
		`SELECT * FROM insert_knowledge_base($1, $2, $3, $4, $5)`,
		kb.ID,
		kb.TenantID,
		kb.Name,
		kb.Description,
		kb.EmbeddingDim,
	)

	err := scanKnowledgeBase(row, kb)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectKnowledgeBase retrieves a knowledge base by id
func (h *KnowledgeBasesDBHandler) SelectKnowledgeBase(ctx context.Context, id string) (*model.KnowledgeBase, error) {
	row := h.db.Instance().QueryRowContext(ctx,
		`SELECT * FROM select_knowledge_base($1)`,
		id,
	)

	kb := &model.KnowledgeBase{}
	err := scanKnowledgeBase(row, kb)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return kb, nil
}

// SelectKnowledgeBases retrieves knowledge bases in the order of ids.
// An empty tenant matches every tenant, empty ids match every knowledge base.
func (h *KnowledgeBasesDBHandler) SelectKnowledgeBases(ctx context.Context, tenantID string, ids []string) ([]*model.KnowledgeBase, error) {
	rows, err := h.db.Instance().QueryContext(ctx,
		`SELECT * FROM select_knowledge_bases($1, $2)`,
		tenantID,
		pq.Array(nonNil(ids)),
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	kbs := []*model.KnowledgeBase{}
	for rows.Next() {
		kb := &model.KnowledgeBase{}
		err := scanKnowledgeBase(rows, kb)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		kbs = append(kbs, kb)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return kbs, nil
}

// DeleteKnowledgeBase deletes a knowledge base with its documents
func (h *KnowledgeBasesDBHandler) DeleteKnowledgeBase(ctx context.Context, id string) error {
	_, err := h.db.Instance().ExecContext(ctx,
		`SELECT delete_knowledge_base($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

func scanKnowledgeBase(s scanner, kb *model.KnowledgeBase) error {
	return s.Scan(
		&kb.ID,
		&kb.TenantID,
		&kb.Name,
		&kb.Description,
		&kb.EmbeddingDim,
		&kb.CreatedAt,
	)
}
