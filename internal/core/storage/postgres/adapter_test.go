package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	v1 "github.com/netacct-lab/radacct/internal/api/v1"
	"github.com/netacct-lab/radacct/internal/core/storage"
	"github.com/stretchr/testify/require"
)

func TestAdapter_BeginSession(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		params     storage.BeginParams
		mockResult func(mock sqlmock.Sqlmock, p storage.BeginParams)
		assertions func(t *testing.T, session *v1.AccountingSession, err error)
	}{
		{
			name: "success inserts active row",
			params: storage.BeginParams{
				SessionID:    "sess-1",
				Username:     "alice",
				NASIPAddress: "10.0.0.1",
				NASPort:      15,
				StartTime:    start,
			},
			mockResult: func(mock sqlmock.Sqlmock, p storage.BeginParams) {
				mock.ExpectQuery(regexp.QuoteMeta(queryBeginSession)).
					WithArgs(p.SessionID, p.Username, p.NASIPAddress, p.NASPort, p.StartTime).
					WillReturnRows(sqlmock.NewRows(sessionRowColumns()).
						AddRow("sess-1", "alice", "10.0.0.1", 15, start, nil, int64(0), int64(0), int64(0), nil, start))
			},
			assertions: func(t *testing.T, session *v1.AccountingSession, err error) {
				require.NoError(t, err)
				require.Equal(t, "sess-1", session.SessionID)
				require.True(t, session.IsActive())
				require.Zero(t, session.InputOctets)
			},
		},
		{
			name: "duplicate session_id maps to ErrDuplicateSession",
			params: storage.BeginParams{
				SessionID:    "sess-dup",
				Username:     "alice",
				NASIPAddress: "10.0.0.1",
				NASPort:      15,
				StartTime:    start,
			},
			mockResult: func(mock sqlmock.Sqlmock, p storage.BeginParams) {
				mock.ExpectQuery(regexp.QuoteMeta(queryBeginSession)).
					WithArgs(p.SessionID, p.Username, p.NASIPAddress, p.NASPort, p.StartTime).
					WillReturnRows(sqlmock.NewRows(sessionRowColumns()))
			},
			assertions: func(t *testing.T, session *v1.AccountingSession, err error) {
				require.ErrorIs(t, err, storage.ErrDuplicateSession)
				require.Nil(t, session)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock, db := newMockAdapter(t)
			defer db.Close()

			tc.mockResult(mock, tc.params)

			session, err := adapter.BeginSession(context.Background(), tc.params)
			tc.assertions(t, session, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdapter_ApplyInterimUpdate(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	params := storage.InterimParams{
		SessionID:    "sess-1",
		InputOctets:  1000,
		OutputOctets: 2000,
		SessionTime:  300,
	}

	t.Run("applied update returns new counters", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryApplyInterimUpdate)).
			WithArgs(params.SessionID, params.InputOctets, params.OutputOctets, params.SessionTime).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()).
				AddRow("sess-1", "alice", "10.0.0.1", 15, start, nil, int64(1000), int64(2000), int64(300), nil, start))

		session, applied, err := adapter.ApplyInterimUpdate(context.Background(), params)
		require.NoError(t, err)
		require.True(t, applied)
		require.Equal(t, int64(300), session.SessionTime)
		require.Zero(t, adapter.StaleDiscards())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale update is discarded and counted", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryApplyInterimUpdate)).
			WithArgs(params.SessionID, params.InputOctets, params.OutputOctets, params.SessionTime).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()))
		// Classification read: row is active with a newer session_time.
		mock.ExpectQuery(regexp.QuoteMeta(queryGetSession)).
			WithArgs(params.SessionID).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()).
				AddRow("sess-1", "alice", "10.0.0.1", 15, start, nil, int64(5000), int64(9000), int64(600), nil, start))

		session, applied, err := adapter.ApplyInterimUpdate(context.Background(), params)
		require.NoError(t, err)
		require.False(t, applied)
		require.Equal(t, int64(600), session.SessionTime)
		require.Equal(t, int64(5000), session.InputOctets)
		require.Equal(t, uint64(1), adapter.StaleDiscards())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminated session maps to ErrSessionTerminated", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		stop := start.Add(time.Hour)
		mock.ExpectQuery(regexp.QuoteMeta(queryApplyInterimUpdate)).
			WithArgs(params.SessionID, params.InputOctets, params.OutputOctets, params.SessionTime).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()))
		mock.ExpectQuery(regexp.QuoteMeta(queryGetSession)).
			WithArgs(params.SessionID).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()).
				AddRow("sess-1", "alice", "10.0.0.1", 15, start, stop, int64(5000), int64(9000), int64(3600), "User-Request", stop))

		_, applied, err := adapter.ApplyInterimUpdate(context.Background(), params)
		require.ErrorIs(t, err, storage.ErrSessionTerminated)
		require.False(t, applied)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown session maps to ErrSessionNotFound", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryApplyInterimUpdate)).
			WithArgs(params.SessionID, params.InputOctets, params.OutputOctets, params.SessionTime).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()))
		mock.ExpectQuery(regexp.QuoteMeta(queryGetSession)).
			WithArgs(params.SessionID).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()))

		_, applied, err := adapter.ApplyInterimUpdate(context.Background(), params)
		require.ErrorIs(t, err, storage.ErrSessionNotFound)
		require.False(t, applied)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_EndSession(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	stop := start.Add(90 * time.Minute)
	params := storage.StopParams{
		SessionID:      "sess-1",
		StopTime:       stop,
		TerminateCause: "User-Request",
		InputOctets:    7000,
		OutputOctets:   14000,
	}

	t.Run("success finalizes the row", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryEndSession)).
			WithArgs(params.SessionID, params.StopTime, params.TerminateCause, params.InputOctets, params.OutputOctets).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()).
				AddRow("sess-1", "alice", "10.0.0.1", 15, start, stop, int64(7000), int64(14000), int64(5400), "User-Request", stop))

		session, err := adapter.EndSession(context.Background(), params)
		require.NoError(t, err)
		require.False(t, session.IsActive())
		require.Equal(t, int64(5400), session.SessionTime)
		require.Equal(t, "User-Request", session.TerminateCause)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("identical repeat is idempotent", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryEndSession)).
			WithArgs(params.SessionID, params.StopTime, params.TerminateCause, params.InputOctets, params.OutputOctets).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()))
		mock.ExpectQuery(regexp.QuoteMeta(queryGetSession)).
			WithArgs(params.SessionID).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()).
				AddRow("sess-1", "alice", "10.0.0.1", 15, start, stop, int64(7000), int64(14000), int64(5400), "User-Request", stop))

		session, err := adapter.EndSession(context.Background(), params)
		require.NoError(t, err)
		require.NotNil(t, session.StopTime)
		require.True(t, session.StopTime.Equal(stop))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("differing repeat maps to ErrConflictingStop", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryEndSession)).
			WithArgs(params.SessionID, params.StopTime, params.TerminateCause, params.InputOctets, params.OutputOctets).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()))
		mock.ExpectQuery(regexp.QuoteMeta(queryGetSession)).
			WithArgs(params.SessionID).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()).
				AddRow("sess-1", "alice", "10.0.0.1", 15, start, stop, int64(7000), int64(14000), int64(5400), "Lost-Carrier", stop))

		session, err := adapter.EndSession(context.Background(), params)
		require.ErrorIs(t, err, storage.ErrConflictingStop)
		require.Nil(t, session)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown session maps to ErrSessionNotFound", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryEndSession)).
			WithArgs(params.SessionID, params.StopTime, params.TerminateCause, params.InputOctets, params.OutputOctets).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()))
		mock.ExpectQuery(regexp.QuoteMeta(queryGetSession)).
			WithArgs(params.SessionID).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns()))

		_, err := adapter.EndSession(context.Background(), params)
		require.ErrorIs(t, err, storage.ErrSessionNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_GetSession_NotFound(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryGetSession)).
		WithArgs("sess-missing").
		WillReturnRows(sqlmock.NewRows(sessionRowColumns()))

	_, err := adapter.GetSession(context.Background(), "sess-missing")
	require.ErrorIs(t, err, storage.ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_ListSessions(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	active := true

	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	wantWhere := " WHERE username = $1 AND stop_time IS NULL"
	wantList := queryListSessionsBase + wantWhere +
		" ORDER BY start_time DESC, session_id ASC LIMIT $2 OFFSET $3"

	mock.ExpectQuery(regexp.QuoteMeta(queryCountSessionsBase + wantWhere)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))
	mock.ExpectQuery(regexp.QuoteMeta(wantList)).
		WithArgs("alice", 2, 2).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns()).
			AddRow("sess-3", "alice", "10.0.0.1", 3, start, nil, int64(10), int64(20), int64(60), nil, start).
			AddRow("sess-4", "alice", "10.0.0.2", 4, start.Add(-time.Hour), nil, int64(30), int64(40), int64(120), nil, start)).
		RowsWillBeClosed()

	sessions, total, err := adapter.ListSessions(context.Background(),
		storage.SessionFilter{Username: "alice", Active: &active},
		storage.SessionSort{Field: "start_time", Descending: true},
		storage.SessionPage{Number: 2, Size: 2},
	)
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Len(t, sessions, 2)
	require.Equal(t, "sess-3", sessions[0].SessionID)
	require.Equal(t, "sess-4", sessions[1].SessionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_ListSessions_RejectsUnknownSortField(t *testing.T) {
	adapter, _, db := newMockAdapter(t)
	defer db.Close()

	_, _, err := adapter.ListSessions(context.Background(),
		storage.SessionFilter{},
		storage.SessionSort{Field: "password; DROP TABLE radacct"},
		storage.SessionPage{Number: 1, Size: 10},
	)
	require.Error(t, err)
	require.ErrorContains(t, err, "unknown sort field")
}

func TestAdapter_CloseReturnsDBCloseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	dbCloseErr := errors.New("db close failed")

	mock.ExpectPrepare(regexp.QuoteMeta(queryBeginSession)).WillBeClosed()
	stmtBegin, err := db.Prepare(queryBeginSession)
	require.NoError(t, err)

	mock.ExpectPrepare(regexp.QuoteMeta(queryApplyInterimUpdate)).WillBeClosed()
	stmtInterim, err := db.Prepare(queryApplyInterimUpdate)
	require.NoError(t, err)

	mock.ExpectPrepare(regexp.QuoteMeta(queryEndSession)).WillBeClosed()
	stmtEnd, err := db.Prepare(queryEndSession)
	require.NoError(t, err)

	mock.ExpectPrepare(regexp.QuoteMeta(queryGetSession)).WillBeClosed()
	stmtGet, err := db.Prepare(queryGetSession)
	require.NoError(t, err)

	mock.ExpectClose().WillReturnError(dbCloseErr)

	adapter := &Adapter{
		db:          db,
		stmtBegin:   stmtBegin,
		stmtInterim: stmtInterim,
		stmtEnd:     stmtEnd,
		stmtGet:     stmtGet,
	}

	err = adapter.Close()
	require.Error(t, err)
	require.ErrorContains(t, err, "failed to close database")
	require.ErrorIs(t, err, dbCloseErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := &Adapter{
		db:          db,
		stmtBegin:   mustPrepareStmt(t, db, mock, queryBeginSession),
		stmtInterim: mustPrepareStmt(t, db, mock, queryApplyInterimUpdate),
		stmtEnd:     mustPrepareStmt(t, db, mock, queryEndSession),
		stmtGet:     mustPrepareStmt(t, db, mock, queryGetSession),
	}

	return adapter, mock, db
}

func mustPrepareStmt(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, query string) *sql.Stmt {
	t.Helper()

	mock.ExpectPrepare(regexp.QuoteMeta(query))
	stmt, err := db.Prepare(query)
	require.NoError(t, err)

	return stmt
}

func sessionRowColumns() []string {
	return []string{
		"session_id",
		"username",
		"nas_ip_address",
		"nas_port",
		"start_time",
		"stop_time",
		"input_octets",
		"output_octets",
		"session_time",
		"terminate_cause",
		"updated_at",
	}
}
