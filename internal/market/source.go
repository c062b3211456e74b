package market

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by data sources
var (
	// ErrNoData indicates the source has no candles for the symbol/timeframe
	ErrNoData = errors.New("market: no data for symbol")
	// ErrUnknownCommodity indicates the commodity has no listed contracts
	ErrUnknownCommodity = errors.New("market: unknown commodity")
)

// Source is the read-only market-data interface the core consumes.
// All calls honor context deadlines and cancellation; staleness is
// signalled through Snapshot.AsOf and judged by the caller.
type Source interface {
	// GetSnapshot returns the latest snapshot for a symbol/timeframe
	GetSnapshot(ctx context.Context, symbol string, timeframe Timeframe) (*Snapshot, error)

	// ResolveDominantContracts returns the currently most-liquid
	// contract symbols for a commodity, most liquid first
	ResolveDominantContracts(ctx context.Context, commodity string) ([]string, error)

	// RecentReturns returns up to window most recent per-bar returns
	// for a symbol, oldest first
	RecentReturns(ctx context.Context, symbol string, window int) ([]float64, error)
}
