package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTxEngine backs the engine with real repositories over a mocked driver so
// the transaction boundaries around the status and stats writes are visible.
func newTxEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sdb := sqlx.NewDb(db, "sqlmock")
	eng := New(
		sdb,
		repository.NewDeliveriesRepository(sdb),
		repository.NewEndpointsRepository(sdb),
		repository.NewDeadLettersRepository(sdb),
		stubSender{},
		nil,
		Config{},
		nil,
	)
	return eng, mock
}

func TestMarkDeliveredCommitsStatusAndStatsTogether(t *testing.T) {
	eng, mock := newTxEngine(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE webhook_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE webhook_endpoints").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := eng.markDelivered(context.Background(), due("ev-1", 0), 200, time.Now().UTC())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDeliveredRollsBackWhenStatsWriteFails(t *testing.T) {
	eng, mock := newTxEngine(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE webhook_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE webhook_endpoints").WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	err := eng.markDelivered(context.Background(), due("ev-1", 0), 200, time.Now().UTC())
	require.Error(t, err)
	// no commit expectation: the delivered status must not survive alone
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadLetterRollsBackWhenInsertFails(t *testing.T) {
	eng, mock := newTxEngine(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE webhook_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO dead_letter_events").WillReturnError(errors.New("table full"))
	mock.ExpectRollback()

	err := eng.deadLetter(context.Background(), due("ev-1", 4), 5, time.Now().UTC(), "connection refused")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadLetterCommitsAllThreeWrites(t *testing.T) {
	eng, mock := newTxEngine(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE webhook_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO dead_letter_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE webhook_endpoints").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := eng.deadLetter(context.Background(), due("ev-1", 4), 5, time.Now().UTC(), "connection refused")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
