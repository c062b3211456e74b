package risk

import (
	"gonum.org/v1/gonum/stat"
)

// minCorrelationSamples is the shortest overlapping window we trust a
// correlation estimate from.
const minCorrelationSamples = 10

// returnsTracker keeps a bounded rolling window of recent returns per
// symbol. It is only touched from the manager goroutine.
type returnsTracker struct {
	window  int
	returns map[string][]float64
}

func newReturnsTracker(window int) *returnsTracker {
	if window <= 0 {
		window = 60
	}
	return &returnsTracker{
		window:  window,
		returns: make(map[string][]float64),
	}
}

// set replaces a symbol's window with the latest series, trimmed to the
// configured length.
func (t *returnsTracker) set(symbol string, series []float64) {
	if len(series) > t.window {
		series = series[len(series)-t.window:]
	}
	cp := make([]float64, len(series))
	copy(cp, series)
	t.returns[symbol] = cp
}

// correlation returns the Pearson correlation between two symbols over
// their overlapping tail, and whether enough samples exist to trust it.
func (t *returnsTracker) correlation(a, b string) (float64, bool) {
	ra, rb := t.returns[a], t.returns[b]
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	if n < minCorrelationSamples {
		return 0, false
	}

	// Align on the most recent n observations.
	ra = ra[len(ra)-n:]
	rb = rb[len(rb)-n:]

	c := stat.Correlation(ra, rb, nil)
	if c != c { // NaN when a series is constant
		return 0, false
	}
	return c, true
}
