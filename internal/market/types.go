// Package market defines market-data types and the read-only source
// interface the orchestrator core consumes. Snapshots carry OHLCV plus
// a fixed set of technical indicators; any indicator may be missing and
// consumers must tolerate partial snapshots.
package market

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Timeframe identifies a candle aggregation interval
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

// Valid reports whether the timeframe is one of the supported intervals
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe1d:
		return true
	}
	return false
}

// Candle is a single OHLCV bar with futures open interest
type Candle struct {
	Timestamp    time.Time `json:"timestamp"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	OpenInterest float64   `json:"open_interest"`
}

// Indicators is the named indicator set attached to a snapshot.
// Pointers are nil when the underlying series was too short or the
// upstream feed did not provide the value.
type Indicators struct {
	MA5  *float64 `json:"ma5,omitempty"`
	MA10 *float64 `json:"ma10,omitempty"`
	MA20 *float64 `json:"ma20,omitempty"`
	MA60 *float64 `json:"ma60,omitempty"`

	EMA12 *float64 `json:"ema12,omitempty"`
	EMA26 *float64 `json:"ema26,omitempty"`

	MACD       *float64 `json:"macd,omitempty"`
	MACDSignal *float64 `json:"macd_signal,omitempty"`
	MACDHist   *float64 `json:"macd_hist,omitempty"`

	RSI *float64 `json:"rsi,omitempty"`

	BollUpper  *float64 `json:"boll_upper,omitempty"`
	BollMiddle *float64 `json:"boll_middle,omitempty"`
	BollLower  *float64 `json:"boll_lower,omitempty"`

	ATR *float64 `json:"atr,omitempty"`

	KDJK *float64 `json:"kdj_k,omitempty"`
	KDJD *float64 `json:"kdj_d,omitempty"`
	KDJJ *float64 `json:"kdj_j,omitempty"`
}

// Snapshot is the per-symbol market view fed into the decision engine
type Snapshot struct {
	Symbol       string     `json:"symbol"`
	Timeframe    Timeframe  `json:"timeframe"`
	AsOf         time.Time  `json:"as_of"`
	Open         float64    `json:"open"`
	High         float64    `json:"high"`
	Low          float64    `json:"low"`
	Close        float64    `json:"close"`
	Volume       float64    `json:"volume"`
	OpenInterest float64    `json:"open_interest"`
	Indicators   Indicators `json:"indicators"`
}

// StaleAt reports whether the snapshot is older than maxAge at the
// given instant. Freshness policy belongs to the consumer; this is just
// the arithmetic.
func (s *Snapshot) StaleAt(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.AsOf) > maxAge
}

// CommodityOf extracts the commodity code from a contract symbol, e.g.
// "rb2501" -> "rb". Symbols without a digit suffix are returned as-is.
func CommodityOf(symbol string) string {
	idx := strings.IndexFunc(symbol, unicode.IsDigit)
	if idx <= 0 {
		return symbol
	}
	return symbol[:idx]
}

// Float is a convenience for building optional indicator values
func Float(v float64) *float64 { return &v }

func (s *Snapshot) String() string {
	return fmt.Sprintf("%s/%s@%s close=%.2f", s.Symbol, s.Timeframe, s.AsOf.Format(time.RFC3339), s.Close)
}
