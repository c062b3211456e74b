package db

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nehcuh/cherryquant/internal/risk"
)

// RiskStatusSource is the slice of the risk manager the recorder polls
type RiskStatusSource interface {
	Status(ctx context.Context) (risk.Status, error)
}

const insertSnapshotSQL = `
	INSERT INTO portfolio_snapshots
		(total_capital, total_equity, used_margin, capital_usage, daily_pnl, drawdown, halted, agent_count, taken_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// SnapshotRecorder writes a periodic portfolio snapshot row, giving
// operators an equity curve that survives restarts.
type SnapshotRecorder struct {
	pool     Pool
	src      RiskStatusSource
	interval time.Duration
	log      zerolog.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewSnapshotRecorder(pool Pool, src RiskStatusSource, interval time.Duration, log zerolog.Logger) *SnapshotRecorder {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SnapshotRecorder{
		pool:     pool,
		src:      src,
		interval: interval,
		log:      log.With().Str("component", "snapshot_recorder").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *SnapshotRecorder) Start() {
	go r.loop()
}

func (r *SnapshotRecorder) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

func (r *SnapshotRecorder) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.record(context.Background())
		}
	}
}

func (r *SnapshotRecorder) record(ctx context.Context) {
	status, err := r.src.Status(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("Risk status unavailable, snapshot skipped")
		return
	}

	_, err = r.pool.Exec(ctx, insertSnapshotSQL,
		status.TotalCapital,
		status.TotalEquity,
		status.UsedMargin,
		status.CapitalUsage,
		status.DailyPnL,
		status.Drawdown,
		status.Halted,
		status.AgentCount,
		time.Now().UTC(),
	)
	if err != nil {
		r.log.Error().Err(err).Msg("Portfolio snapshot write failed")
	}
}
