package market

import (
	"context"
	"sync"
	"time"
)

// SimSource is an in-memory market source used for paper trading and
// tests. Candle series are appended per symbol/timeframe; snapshots
// are derived on demand with the full indicator set.
type SimSource struct {
	mu       sync.RWMutex
	candles  map[string][]Candle // key: symbol|timeframe
	dominant map[string][]string // commodity -> contracts, most liquid first
	clock    func() time.Time
}

// NewSimSource creates an empty simulated market source
func NewSimSource() *SimSource {
	return &SimSource{
		candles:  make(map[string][]Candle),
		dominant: make(map[string][]string),
		clock:    time.Now,
	}
}

// SetClock overrides the time source, for tests
func (s *SimSource) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func key(symbol string, timeframe Timeframe) string {
	return symbol + "|" + string(timeframe)
}

// AppendCandles adds bars (oldest first) to a symbol's series
func (s *SimSource) AppendCandles(symbol string, timeframe Timeframe, candles ...Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(symbol, timeframe)
	s.candles[k] = append(s.candles[k], candles...)
}

// SetDominant registers the dominant contract ordering for a commodity
func (s *SimSource) SetDominant(commodity string, symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dominant[commodity] = symbols
}

// GetSnapshot derives the latest snapshot from the stored series
func (s *SimSource) GetSnapshot(ctx context.Context, symbol string, timeframe Timeframe) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	series := s.candles[key(symbol, timeframe)]
	s.mu.RUnlock()

	if len(series) == 0 {
		return nil, ErrNoData
	}

	last := series[len(series)-1]
	return &Snapshot{
		Symbol:       symbol,
		Timeframe:    timeframe,
		AsOf:         last.Timestamp,
		Open:         last.Open,
		High:         last.High,
		Low:          last.Low,
		Close:        last.Close,
		Volume:       last.Volume,
		OpenInterest: last.OpenInterest,
		Indicators:   ComputeIndicators(series),
	}, nil
}

// ResolveDominantContracts returns the registered dominant contracts
func (s *SimSource) ResolveDominantContracts(ctx context.Context, commodity string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols, ok := s.dominant[commodity]
	if !ok || len(symbols) == 0 {
		return nil, ErrUnknownCommodity
	}
	out := make([]string, len(symbols))
	copy(out, symbols)
	return out, nil
}

// RecentReturns computes per-bar close-to-close returns from the 1m
// series, falling back to whichever series the symbol has
func (s *SimSource) RecentReturns(ctx context.Context, symbol string, window int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var series []Candle
	for _, tf := range []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe1d} {
		if cs := s.candles[key(symbol, tf)]; len(cs) > 0 {
			series = cs
			break
		}
	}
	if len(series) < 2 {
		return nil, ErrNoData
	}

	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		prev := series[i-1].Close
		if prev == 0 {
			continue
		}
		returns = append(returns, (series[i].Close-prev)/prev)
	}

	if window > 0 && len(returns) > window {
		returns = returns[len(returns)-window:]
	}
	return returns, nil
}
