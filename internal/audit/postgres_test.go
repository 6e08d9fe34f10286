package audit

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSinkInsertsRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := Record{
		ID:            "11111111-2222-3333-4444-555555555555",
		SearchQuery:   "bad words",
		ChildUsername: "timmy",
		Source:        "surface",
		At:            time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO audit_records").
		WithArgs(rec.ID, rec.SearchQuery, rec.ChildUsername, rec.Source, rec.At).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sink := newPostgresSinkWithDB(mock)
	require.NoError(t, sink.Ship(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkReportsFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO audit_records").
		WithArgs("id", "q", "u", "surface", pgxmock.AnyArg()).
		WillReturnError(assert.AnError)

	sink := newPostgresSinkWithDB(mock)
	err = sink.Ship(context.Background(), Record{ID: "id", SearchQuery: "q", ChildUsername: "u", Source: "surface", At: time.Now()})
	assert.Error(t, err)
}
