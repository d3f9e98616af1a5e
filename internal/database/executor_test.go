package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestExec_RunsStatementsInOrderAndCommits(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE DATABASE `db_0123456789abcdef`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("USE benchmark").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CALL generate_table_data('db_0123456789abcdef','bench_tbl',10,100000,1000,1)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := exec.Exec(context.Background(),
		"CREATE DATABASE `db_0123456789abcdef`",
		"USE benchmark",
		"CALL generate_table_data('db_0123456789abcdef','bench_tbl',10,100000,1000,1)",
	)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExec_FailureNamesStatementIndex(t *testing.T) {
	exec, mock := newMockExecutor(t)

	cause := errors.New("Unknown database 'db_dead'")
	mock.ExpectBegin()
	mock.ExpectExec("CREATE DATABASE `db_dead`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("USE db_dead").WillReturnError(cause)
	mock.ExpectRollback()

	err := exec.Exec(context.Background(), "CREATE DATABASE `db_dead`", "USE db_dead")
	require.Error(t, err)

	var stmtErr *StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Equal(t, 1, stmtErr.Index)
	assert.ErrorIs(t, err, cause)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExec_BeginFailure(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectBegin().WillReturnError(errors.New("server gone away"))

	err := exec.Exec(context.Background(), "USE benchmark")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin transaction")
}

func TestExec_CommitFailure(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec("USE benchmark").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit().WillReturnError(errors.New("deadlock"))

	err := exec.Exec(context.Background(), "USE benchmark")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
}

func TestExec_NoStatements(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, exec.Exec(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
