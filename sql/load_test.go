package sql

import (
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func functionExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);", name).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func TestInit(t *testing.T) {
	db := initDB(t)

	t.Run("Initialize database extensions", func(t *testing.T) {
		err := Init(db.Instance())
		assert.NoError(t, err)

		var exists bool
		err = db.Instance().QueryRow("SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector');").Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "pgvector extension should be created")
	})

	t.Run("Initialize database extensions is idempotent", func(t *testing.T) {
		assert.NoError(t, Init(db.Instance()))
		assert.NoError(t, Init(db.Instance()))
	})
}

func TestLoadSql(t *testing.T) {
	db := initDB(t)

	loaders := []struct {
		name      string
		load      func(*sql.DB, bool) error
		functions []string
	}{
		{"Knowledge bases", LoadKnowledgeBasesSql, KnowledgeBasesFunctions},
		{"Documents", LoadDocumentsSql, DocumentsFunctions},
		{"Chunks", LoadChunksSql, ChunksFunctions},
	}

	for _, l := range loaders {
		t.Run(l.name+" SQL functions are created", func(t *testing.T) {
			err := l.load(db.Instance(), false)
			assert.NoError(t, err)

			for _, f := range l.functions {
				assert.True(t, functionExists(t, db.Instance(), f), "Function %s should exist", f)
			}
		})

		t.Run(l.name+" SQL is idempotent without force", func(t *testing.T) {
			assert.NoError(t, l.load(db.Instance(), false))
		})

		t.Run(l.name+" SQL with force reloads", func(t *testing.T) {
			assert.NoError(t, l.load(db.Instance(), true))
			for _, f := range l.functions {
				assert.True(t, functionExists(t, db.Instance(), f), "Function %s should exist after force reload", f)
			}
		})
	}

	t.Run("Load all SQL is idempotent", func(t *testing.T) {
		assert.NoError(t, LoadAllSql(db.Instance(), false))
		assert.NoError(t, LoadAllSql(db.Instance(), true))
	})
}

func TestSearchFunctions(t *testing.T) {
	db := initDB(t)

	require.NoError(t, LoadAllSql(db.Instance(), false))
	_, err := db.Instance().Exec(`SELECT init_knowledge_bases(); SELECT init_documents(); SELECT init_chunks(3);`)
	require.NoError(t, err)

	_, err = db.Instance().Exec(`
		INSERT INTO knowledge_bases (id, tenant_id, name, embedding_dim) VALUES ('sql_kb', 't1', 'HR', 3) ON CONFLICT DO NOTHING;
		INSERT INTO documents (id, kb_id, name) VALUES ('sql_doc', 'sql_kb', 'handbook') ON CONFLICT DO NOTHING;
		INSERT INTO chunks (id, tenant_index, kb_id, doc_id, doc_name, content, content_ltks, embedding)
		VALUES
			('sql_c1', 'ragflow_t1', 'sql_kb', 'sql_doc', 'handbook', 'Vacation policy for employees', '{vacation,policy,for,employees}', '[1,0,0]'),
			('sql_c2', 'ragflow_t1', 'sql_kb', 'sql_doc', 'handbook', 'Invoices are due monthly', '{invoices,are,due,monthly}', '[0,1,0]')
		ON CONFLICT DO NOTHING;
	`)
	require.NoError(t, err)

	boosts := "{1,0.6667,0.3333,0.1667,0.0667,0.0333}"

	t.Run("Trigger fills search vector", func(t *testing.T) {
		var filled bool
		err := db.Instance().QueryRow(`SELECT search_vector IS NOT NULL FROM chunks WHERE id = 'sql_c1'`).Scan(&filled)
		require.NoError(t, err)
		assert.True(t, filled)
	})

	t.Run("Lexical match respects minimum match", func(t *testing.T) {
		var count int64
		err := db.Instance().QueryRow(
			`SELECT count_chunks('{ragflow_t1}', '{}', '{}', '{vacation,policy}', 2, $1, 1, NULL, 0, 10, TRUE)`,
			boosts,
		).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		err = db.Instance().QueryRow(
			`SELECT count_chunks('{ragflow_t1}', '{}', '{}', '{vacation,budget}', 2, $1, 1, NULL, 0, 10, TRUE)`,
			boosts,
		).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("Vector match applies similarity floor", func(t *testing.T) {
		var count int64
		err := db.Instance().QueryRow(
			`SELECT count_chunks('{ragflow_t1}', '{sql_kb}', '{}', '{}', 0, $1, 0.05, '[1,0.1,0]', 0.9, 10, TRUE)`,
			boosts,
		).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Empty query matches every chunk in scope", func(t *testing.T) {
		var count int64
		err := db.Instance().QueryRow(
			`SELECT count_chunks('{ragflow_t1}', '{sql_kb}', '{sql_doc}', '{}', 0, $1, 1, NULL, 0, 10, TRUE)`,
			boosts,
		).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("Fine-grained title hit outranks a content hit", func(t *testing.T) {
		_, err := db.Instance().Exec(`
			INSERT INTO documents (id, kb_id, name) VALUES ('sql_rank_doc', 'sql_kb', 'rank') ON CONFLICT DO NOTHING;
			INSERT INTO chunks (id, tenant_index, kb_id, doc_id, doc_name, content, title_sm_tks, content_ltks, embedding)
			VALUES
				('sql_title', 'ragflow_t1', 'sql_kb', 'sql_rank_doc', 'rank', 'Relocation', '{relocation}', '{}', '[0,0,1]'),
				('sql_content', 'ragflow_t1', 'sql_kb', 'sql_rank_doc', 'rank', 'Relocation support', '{}', '{relocation,support}', '[0,0,1]')
			ON CONFLICT DO NOTHING;
		`)
		require.NoError(t, err)

		rows, err := db.Instance().Query(
			`SELECT output_id, output_text_score FROM match_chunks('{ragflow_t1}', '{}', '{sql_rank_doc}', '{relocation}', 1, $1, 1, NULL, 0, 10, TRUE)`,
			boosts,
		)
		require.NoError(t, err)
		defer rows.Close()

		scores := map[string]float64{}
		for rows.Next() {
			var id string
			var score float64
			require.NoError(t, rows.Scan(&id, &score))
			scores[id] = score
		}
		require.NoError(t, rows.Err())
		require.Len(t, scores, 2)
		assert.Greater(t, scores["sql_title"], scores["sql_content"])
	})

	t.Run("Aggregation counts chunks per document", func(t *testing.T) {
		var docID, docName string
		var count int64
		err := db.Instance().QueryRow(
			`SELECT * FROM aggregate_chunks('{ragflow_t1}', '{}', '{sql_doc}', '{}', 0, $1, 1, NULL, 0, 10, TRUE)`,
			boosts,
		).Scan(&docID, &docName, &count)
		require.NoError(t, err)
		assert.Equal(t, "sql_doc", docID)
		assert.Equal(t, "handbook", docName)
		assert.Equal(t, int64(2), count)
	})
}

func TestCheckFunctions(t *testing.T) {
	db := initDB(t)

	t.Run("Check functions returns false when functions don't exist", func(t *testing.T) {
		exists, err := checkFunctions(db.Instance(), []string{"nonexistent_function"})
		assert.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Check functions returns true when all functions exist", func(t *testing.T) {
		require.NoError(t, LoadChunksSql(db.Instance(), false))

		exists, err := checkFunctions(db.Instance(), ChunksFunctions)
		assert.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Check functions returns false when some functions don't exist", func(t *testing.T) {
		exists, err := checkFunctions(db.Instance(), []string{"init_chunks", "nonexistent_function"})
		assert.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Check functions with empty list", func(t *testing.T) {
		exists, err := checkFunctions(db.Instance(), []string{})
		assert.NoError(t, err)
		assert.False(t, exists, "An empty list never counts as loaded")
	})
}

func TestEmbeddedSQL(t *testing.T) {
	scripts := map[string]string{
		"init":            initSQL,
		"knowledge bases": knowledgeBasesSQL,
		"documents":       documentsSQL,
		"chunks":          chunksSQL,
	}

	for name, script := range scripts {
		t.Run("Embeds "+name+" script", func(t *testing.T) {
			assert.Contains(t, script, "CREATE")
		})
	}
}
