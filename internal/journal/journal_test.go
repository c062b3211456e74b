package journal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nehcuh/cherryquant/internal/engine"
	"github.com/nehcuh/cherryquant/internal/risk"
)

func fastConfig() Config {
	return Config{
		FlushInterval: 10 * time.Millisecond,
		BufferSize:    64,
		MemoryLimit:   100,
		Subject:       "test.decisions",
	}
}

func recordFor(decisionID, strategyID string, outcome Outcome) Record {
	return Record{
		DecisionID: decisionID,
		StrategyID: strategyID,
		Symbol:     "rb2501",
		Inputs: InputsSummary{
			Symbol:    "rb2501",
			Timeframe: "1h",
			AsOf:      time.Now().UTC(),
			Close:     3500,
		},
		Decision: engine.Decision{
			DecisionID: decisionID,
			Symbol:     "rb2501",
			Action:     engine.ActionBuyToEnter,
			Source:     engine.SourceLLM,
		},
		Outcome: outcome,
	}
}

func TestAppendAndGet(t *testing.T) {
	j := New(nil, nil, fastConfig(), zerolog.Nop())
	defer j.Close()

	j.Append(context.Background(), recordFor("d1", "s1", OutcomeSubmitted))

	rec, ok := j.Get("d1")
	require.True(t, ok)
	assert.Equal(t, "s1", rec.StrategyID)
	assert.Equal(t, OutcomeSubmitted, rec.Outcome)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestDuplicateAppendIgnored(t *testing.T) {
	j := New(nil, nil, fastConfig(), zerolog.Nop())
	defer j.Close()

	first := recordFor("d1", "s1", OutcomeSubmitted)
	second := recordFor("d1", "s1", OutcomeVetoed)
	j.Append(context.Background(), first)
	j.Append(context.Background(), second)

	rec, ok := j.Get("d1")
	require.True(t, ok)
	assert.Equal(t, OutcomeSubmitted, rec.Outcome, "first record wins")
	assert.Len(t, j.Recent("", 0), 1)
}

func TestSettleAttachesFill(t *testing.T) {
	j := New(nil, nil, fastConfig(), zerolog.Nop())
	defer j.Close()

	j.Append(context.Background(), recordFor("d1", "s1", OutcomeSubmitted))

	price := 3510.0
	pnl := 250.0
	j.Settle(context.Background(), "d1", Settlement{FillPrice: &price, RealizedPnL: &pnl})

	rec, _ := j.Get("d1")
	require.NotNil(t, rec.FillPrice)
	assert.Equal(t, 3510.0, *rec.FillPrice)
	require.NotNil(t, rec.RealizedPnL)
	assert.Equal(t, 250.0, *rec.RealizedPnL)
}

func TestByStrategyNewestFirst(t *testing.T) {
	j := New(nil, nil, fastConfig(), zerolog.Nop())
	defer j.Close()

	ctx := context.Background()
	j.Append(ctx, recordFor("d1", "s1", OutcomeHold))
	j.Append(ctx, recordFor("d2", "s2", OutcomeHold))
	j.Append(ctx, recordFor("d3", "s1", OutcomeSubmitted))

	recs := j.ByStrategy("s1", 10)
	require.Len(t, recs, 2)
	assert.Equal(t, "d3", recs[0].DecisionID)
	assert.Equal(t, "d1", recs[1].DecisionID)

	assert.Len(t, j.ByStrategy("s1", 1), 1)
}

func TestInRange(t *testing.T) {
	j := New(nil, nil, fastConfig(), zerolog.Nop())
	defer j.Close()

	ctx := context.Background()
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"d1", "d2", "d3"} {
		rec := recordFor(id, "s1", OutcomeHold)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		j.Append(ctx, rec)
	}

	recs := j.InRange("s1", base.Add(30*time.Minute), base.Add(150*time.Minute))
	require.Len(t, recs, 1)
	assert.Equal(t, "d2", recs[0].DecisionID)
}

func TestMemoryEviction(t *testing.T) {
	cfg := fastConfig()
	cfg.MemoryLimit = 3
	j := New(nil, nil, cfg, zerolog.Nop())
	defer j.Close()

	ctx := context.Background()
	for _, id := range []string{"d1", "d2", "d3", "d4"} {
		j.Append(ctx, recordFor(id, "s1", OutcomeHold))
	}

	_, ok := j.Get("d1")
	assert.False(t, ok, "oldest record evicted")
	_, ok = j.Get("d4")
	assert.True(t, ok)
	assert.Len(t, j.Recent("", 0), 3)
}

func TestFlushWritesToDatabase(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO decisions").
		WithArgs("d1", "s1", "rb2501", pgxmock.AnyArg(), "submitted", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	j := New(mock, nil, fastConfig(), zerolog.Nop())
	j.Append(context.Background(), recordFor("d1", "s1", OutcomeSubmitted))

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 10*time.Millisecond)
	j.Close()
}

func TestCloseFlushesPendingWrites(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO decisions").
		WithArgs("d1", "s1", "rb2501", pgxmock.AnyArg(), "hold", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	cfg := fastConfig()
	cfg.FlushInterval = time.Hour // only the close-time flush can write
	j := New(mock, nil, cfg, zerolog.Nop())
	j.Append(context.Background(), recordFor("d1", "s1", OutcomeHold))
	j.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRiskVerdictRoundTripsThroughRecord(t *testing.T) {
	j := New(nil, nil, fastConfig(), zerolog.Nop())
	defer j.Close()

	rec := recordFor("d1", "s1", OutcomeVetoed)
	rec.RiskVerdict = &risk.Verdict{
		Approved:   false,
		ReasonCode: risk.ReasonCorrelation,
		Reason:     "rb2501 correlates with hc2501 at 0.92",
	}
	j.Append(context.Background(), rec)

	got, _ := j.Get("d1")
	require.NotNil(t, got.RiskVerdict)
	assert.Equal(t, risk.ReasonCorrelation, got.RiskVerdict.ReasonCode)
}

func startEmbeddedNATS(t *testing.T) (*natsserver.Server, *nats.Conn) {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("NATS server did not start in time")
	}

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})
	return ns, nc
}

func TestAppendPublishesToStream(t *testing.T) {
	_, nc := startEmbeddedNATS(t)

	sub, err := nc.SubscribeSync("test.decisions.s1")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	j := New(nil, nc, fastConfig(), zerolog.Nop())
	defer j.Close()

	j.Append(context.Background(), recordFor("d1", "s1", OutcomeSubmitted))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(msg.Data, &rec))
	assert.Equal(t, "d1", rec.DecisionID)
	assert.Equal(t, OutcomeSubmitted, rec.Outcome)
}

func TestStreamWildcardCoversAllStrategies(t *testing.T) {
	_, nc := startEmbeddedNATS(t)

	sub, err := nc.SubscribeSync("test.decisions.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	j := New(nil, nc, fastConfig(), zerolog.Nop())
	defer j.Close()

	ctx := context.Background()
	j.Append(ctx, recordFor("d1", "s1", OutcomeHold))
	j.Append(ctx, recordFor("d2", "s2", OutcomeHold))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg, err := sub.NextMsg(2 * time.Second)
		require.NoError(t, err)
		var rec Record
		require.NoError(t, json.Unmarshal(msg.Data, &rec))
		seen[rec.StrategyID] = true
	}
	assert.True(t, seen["s1"] && seen["s2"])
}
