package database

import (
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/siherrmann/retriever/helper"
	"github.com/stretchr/testify/require"
)

const checkFunctionQuery = `SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`

func initMockDB(t *testing.T) (*helper.Database, sqlmock.Sqlmock) {
	t.Helper()
	instance, mock, err := sqlmock.New()
	require.NoError(t, err, "failed to create sqlmock")
	t.Cleanup(func() { _ = instance.Close() })

	logger := helper.NewLogger(io.Discard, slog.LevelError)
	return helper.NewDatabaseWithInstance("retriever_test", instance, logger), mock
}

func expectFunctionsExist(mock sqlmock.Sqlmock, functions []string) {
	for _, f := range functions {
		mock.ExpectQuery(regexp.QuoteMeta(checkFunctionQuery)).
			WithArgs(f).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	}
}
