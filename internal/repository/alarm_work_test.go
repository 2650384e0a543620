package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockAlarmWorkDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AlarmWorkRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewAlarmWorkRepository(db, zap.NewNop())
}

func TestAlarmWorkRepository_CreateIfNotPending(t *testing.T) {
	db, mock, repo := setupMockAlarmWorkDB(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`INSERT INTO alarm_work`).
		WithArgs("ABCD1234", 2, at).
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec(`INSERT INTO alarm_work`).
		WithArgs("ABCD1234", 2, at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.CreateIfNotPending(context.Background(), "ABCD1234", 2, at)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfNotPending(context.Background(), "ABCD1234", 2, at)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlarmWorkRepository_ListPending(t *testing.T) {
	db, mock, repo := setupMockAlarmWorkDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "device_id", "alarm_id", "created_at", "done", "actually_sent_at"}).
		AddRow(int64(1), "ABCD1234", 0, now, false, nil).
		AddRow(int64(2), "ABCD1234", -2, now, false, nil)
	mock.ExpectQuery(`FROM alarm_work\s+WHERE done = FALSE`).
		WithArgs(100).
		WillReturnRows(rows)

	items, err := repo.ListPending(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, -2, items[1].AlarmID)
	assert.Nil(t, items[0].ActuallySentAt)
}

func TestAlarmWorkRepository_Claim(t *testing.T) {
	db, mock, repo := setupMockAlarmWorkDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE alarm_work SET done = TRUE WHERE id = \$1 AND done = FALSE`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE alarm_work SET done = TRUE`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Claim(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlarmWorkRepository_SentRecently(t *testing.T) {
	db, mock, repo := setupMockAlarmWorkDB(t)
	defer db.Close()

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(`SELECT COUNT\(\*\)\s+FROM alarm_work`).
		WithArgs("ABCD1234", 2, since, int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	sent, err := repo.SentRecently(context.Background(), "ABCD1234", 2, since, 9)
	require.NoError(t, err)
	assert.True(t, sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlarmWorkRepository_MarkSent(t *testing.T) {
	db, mock, repo := setupMockAlarmWorkDB(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`UPDATE alarm_work SET actually_sent_at`).
		WithArgs(int64(9), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkSent(context.Background(), 9, at))
	require.NoError(t, mock.ExpectationsWereMet())
}
