package market

import (
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

const (
	rsiPeriod  = 14
	bollPeriod = 20
	atrPeriod  = 14
	kdjPeriod  = 9
)

// ComputeIndicators derives the snapshot indicator set from a candle
// series (oldest first). Indicators whose warm-up exceeds the series
// length stay nil; callers downstream must already tolerate that.
func ComputeIndicators(candles []Candle) Indicators {
	var ind Indicators
	if len(candles) == 0 {
		return ind
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	ind.MA5 = lastSMA(closes, 5)
	ind.MA10 = lastSMA(closes, 10)
	ind.MA20 = lastSMA(closes, 20)
	ind.MA60 = lastSMA(closes, 60)

	ind.EMA12 = lastEMA(closes, 12)
	ind.EMA26 = lastEMA(closes, 26)

	if macd, signal := lastMACD(closes, 12, 26, 9); macd != nil && signal != nil {
		hist := *macd - *signal
		ind.MACD = macd
		ind.MACDSignal = signal
		ind.MACDHist = &hist
	}

	ind.RSI = lastRSI(closes, rsiPeriod)

	if lower, middle, upper := lastBollinger(closes, bollPeriod); middle != nil {
		ind.BollLower = lower
		ind.BollMiddle = middle
		ind.BollUpper = upper
	}

	ind.ATR = lastATR(candles, atrPeriod)

	if k, d, j := lastKDJ(candles, kdjPeriod); k != nil {
		ind.KDJK = k
		ind.KDJD = d
		ind.KDJJ = j
	}

	return ind
}

// toChan feeds a slice into a closed channel the way cinar/indicator
// consumes series
func toChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func drain(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

func lastOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func lastSMA(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	return lastOf(drain(sma.Compute(toChan(closes))))
}

func lastEMA(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	return lastOf(drain(ema.Compute(toChan(closes))))
}

func lastMACD(closes []float64, fast, slow, signal int) (*float64, *float64) {
	if len(closes) < slow+signal {
		return nil, nil
	}
	macd := trend.NewMacdWithPeriod[float64](fast, slow, signal)
	macdChan, signalChan := macd.Compute(toChan(closes))

	var macdValues, signalValues []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, s)
	}

	return lastOf(macdValues), lastOf(signalValues)
}

func lastRSI(closes []float64, period int) *float64 {
	if len(closes) <= period {
		return nil
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	return lastOf(drain(rsi.Compute(toChan(closes))))
}

func lastBollinger(closes []float64, period int) (*float64, *float64, *float64) {
	if len(closes) < period {
		return nil, nil, nil
	}
	bb := volatility.NewBollingerBands[float64]()
	bb.Period = period
	lowerChan, middleChan, upperChan := bb.Compute(toChan(closes))

	var lowers, middles, uppers []float64
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lowers = append(lowers, l)
		middles = append(middles, m)
		uppers = append(uppers, u)
	}

	return lastOf(lowers), lastOf(middles), lastOf(uppers)
}

// lastATR computes Wilder-smoothed average true range. Not taken from
// cinar/indicator because its ATR variant smooths with SMA rather than
// the Wilder recurrence commodity platforms report.
func lastATR(candles []Candle, period int) *float64 {
	if len(candles) < period+1 {
		return nil
	}

	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		h, l, pc := candles[i].High, candles[i].Low, candles[i-1].Close
		tr := math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
		trs = append(trs, tr)
	}

	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}

	return &atr
}

// lastKDJ computes the KDJ stochastic triple (9,3,3) with the
// exponential smoothing Chinese futures terminals use
func lastKDJ(candles []Candle, period int) (*float64, *float64, *float64) {
	if len(candles) < period {
		return nil, nil, nil
	}

	k, d := 50.0, 50.0
	for i := period - 1; i < len(candles); i++ {
		hh, ll := candles[i].High, candles[i].Low
		for j := i - period + 1; j < i; j++ {
			hh = math.Max(hh, candles[j].High)
			ll = math.Min(ll, candles[j].Low)
		}
		rsv := 50.0
		if hh > ll {
			rsv = (candles[i].Close - ll) / (hh - ll) * 100
		}
		k = (2*k + rsv) / 3
		d = (2*d + k) / 3
	}
	j := 3*k - 2*d

	return &k, &d, &j
}
