package db

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatements(t *testing.T) {
	stmts := Statements()
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.NotContains(t, s, "--")
		assert.True(t, strings.HasPrefix(s, "CREATE"), s)
	}
}

func TestMigrate(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	stmts := Statements()
	mock.ExpectBegin()
	for _, s := range stmts {
		mock.ExpectExec(regexp.QuoteMeta(s)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	n, err := Migrate(context.Background(), sqlDB)
	require.NoError(t, err)
	assert.Equal(t, len(stmts), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_RollsBackOnFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(Statements()[0])).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	_, err = Migrate(context.Background(), sqlDB)
	assert.ErrorContains(t, err, "statement 1/")
	assert.NoError(t, mock.ExpectationsWereMet())
}
