package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/siherrmann/retriever/model"
	loadSql "github.com/siherrmann/retriever/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var documentColumns = []string{"output_id", "output_kb_id", "output_name", "output_source", "output_metadata", "output_pagerank", "output_created_at", "output_updated_at"}

func newDocumentsHandler(t *testing.T) (*DocumentsDBHandler, sqlmock.Sqlmock) {
	db, mock := initMockDB(t)
	expectFunctionsExist(mock, loadSql.DocumentsFunctions)
	mock.ExpectExec(regexp.QuoteMeta(`SELECT init_documents();`)).WillReturnResult(sqlmock.NewResult(0, 0))

	handler, err := NewDocumentsDBHandler(db, false)
	require.NoError(t, err)
	return handler, mock
}

func TestNewDocumentsDBHandler(t *testing.T) {
	t.Run("Valid call NewDocumentsDBHandler", func(t *testing.T) {
		handler, mock := newDocumentsHandler(t)

		assert.NotNil(t, handler)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Invalid call with nil database", func(t *testing.T) {
		_, err := NewDocumentsDBHandler(nil, false)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "database connection is nil")
	})
}

func TestDocumentsInsert(t *testing.T) {
	handler, mock := newDocumentsHandler(t)
	now := time.Now()

	t.Run("Insert document with metadata", func(t *testing.T) {
		doc := &model.Document{ID: "doc-1", KbID: "hr", Name: "handbook", Metadata: model.Metadata{"department": "hr"}}
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM insert_document($1, $2, $3, $4, $5, $6)`)).
			WithArgs("doc-1", "hr", "handbook", "", sqlmock.AnyArg(), 0.0).
			WillReturnRows(sqlmock.NewRows(documentColumns).
				AddRow("doc-1", "hr", "handbook", "", []byte(`{"department":"hr"}`), 0.0, now, now))

		err := handler.InsertDocument(context.Background(), doc)

		require.NoError(t, err)
		assert.Equal(t, "hr", doc.Metadata["department"])
		assert.Equal(t, now, doc.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Insert document without id gets a uuid", func(t *testing.T) {
		doc := &model.Document{KbID: "hr", Name: "memo"}
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM insert_document($1, $2, $3, $4, $5, $6)`)).
			WillReturnRows(sqlmock.NewRows(documentColumns).
				AddRow("generated", "hr", "memo", "", []byte(`{}`), 0.0, now, now))

		err := handler.InsertDocument(context.Background(), doc)

		require.NoError(t, err)
		assert.Equal(t, "generated", doc.ID)
		assert.NotNil(t, doc.Metadata)
	})
}

func TestDocumentsSelectByKnowledgeBases(t *testing.T) {
	handler, mock := newDocumentsHandler(t)
	now := time.Now()

	t.Run("Returns documents of the given knowledge bases", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM select_documents_by_knowledge_bases($1, $2)`)).
			WithArgs(pq.Array([]string{"hr"}), 100).
			WillReturnRows(sqlmock.NewRows(documentColumns).
				AddRow("d1", "hr", "handbook", "", []byte(`{"year":2024}`), 0.0, now, now).
				AddRow("d2", "hr", "memo", "", []byte(`{"year":2023}`), 0.0, now, now))

		docs, err := handler.SelectDocumentsByKnowledgeBases(context.Background(), []string{"hr"}, 100)

		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, float64(2024), docs[0].Metadata["year"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Row error is returned", func(t *testing.T) {
		rows := sqlmock.NewRows(documentColumns).
			AddRow("d1", "hr", "handbook", "", []byte(`{}`), 0.0, now, now).
			RowError(0, assertErr("broken row"))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM select_documents_by_knowledge_bases($1, $2)`)).WillReturnRows(rows)

		_, err := handler.SelectDocumentsByKnowledgeBases(context.Background(), []string{"hr"}, 100)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken row")
	})
}

func TestDocumentsUpdateAndDelete(t *testing.T) {
	handler, mock := newDocumentsHandler(t)
	now := time.Now()

	t.Run("Update document metadata", func(t *testing.T) {
		doc := &model.Document{ID: "d1", Name: "handbook v2", Metadata: model.Metadata{"year": 2025}, Pagerank: 5}
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM update_document($1, $2, $3, $4)`)).
			WithArgs("d1", "handbook v2", sqlmock.AnyArg(), 5.0).
			WillReturnRows(sqlmock.NewRows(documentColumns).
				AddRow("d1", "hr", "handbook v2", "", []byte(`{"year":2025}`), 5.0, now, now))

		err := handler.UpdateDocument(context.Background(), doc)

		require.NoError(t, err)
		assert.Equal(t, "hr", doc.KbID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Delete document", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SELECT delete_document($1)`)).
			WithArgs("d1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, handler.DeleteDocument(context.Background(), "d1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
