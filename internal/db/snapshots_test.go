package db

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nehcuh/cherryquant/internal/risk"
)

type stubRisk struct {
	status risk.Status
	err    error
}

func (s stubRisk) Status(ctx context.Context) (risk.Status, error) { return s.status, s.err }

func TestSnapshotRecorderWritesRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO portfolio_snapshots").
		WithArgs(3_000_000.0, 3_050_000.0, 400_000.0, 0.1333, 50_000.0, 0.0, false, 3, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r := NewSnapshotRecorder(mock, stubRisk{status: risk.Status{
		TotalCapital: 3_000_000,
		TotalEquity:  3_050_000,
		UsedMargin:   400_000,
		CapitalUsage: 0.1333,
		DailyPnL:     50_000,
		AgentCount:   3,
	}}, 0, zerolog.Nop())

	r.record(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRecorderSkipsOnRiskError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := NewSnapshotRecorder(mock, stubRisk{err: errors.New("manager stopped")}, 0, zerolog.Nop())
	r.record(context.Background())

	// No Exec expected; any write would fail ExpectationsWereMet.
	assert.NoError(t, mock.ExpectationsWereMet())
}
