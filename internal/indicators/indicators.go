// Package indicators derives technical indicator rows from cleaned daily
// bars and evaluates pluggable trading strategies over them.
package indicators

import (
	"fmt"
	"math"
	"sort"

	talib "github.com/markcheno/go-talib"

	"github.com/quantpane/marketsync/internal/domain"
)

// Indicator periods.
const (
	emaFastPeriod  = 20
	emaSlowPeriod  = 50
	smaMidPeriod   = 100
	smaLongPeriod  = 200
	rsiPeriod      = 14
	macdFast       = 12
	macdSlow       = 26
	macdSignal     = 9
	atrPeriod      = 14
)

// Compute derives one indicator row per bar. Bars must be a cleaned daily
// series; they are sorted by timestamp before computation. Values inside
// an indicator's warmup window are left nil rather than reported as zero.
func Compute(symbol string, bars []domain.Bar) ([]domain.IndicatorRow, error) {
	if len(bars) == 0 {
		return nil, nil
	}

	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ts.Before(sorted[j].Ts) })

	n := len(sorted)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, b := range sorted {
		if !finite(b.Close) || !finite(b.High) || !finite(b.Low) {
			return nil, fmt.Errorf("non-finite price in bar series for %s at %s", symbol, b.Ts.Format("2006-01-02"))
		}
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	var ema20, ema50, sma100, sma200, rsi14, atr14 []float64
	var macdLine, signalLine, histLine []float64

	if n >= emaFastPeriod {
		ema20 = talib.Ema(closes, emaFastPeriod)
	}
	if n >= emaSlowPeriod {
		ema50 = talib.Ema(closes, emaSlowPeriod)
	}
	if n >= smaMidPeriod {
		sma100 = talib.Sma(closes, smaMidPeriod)
	}
	if n >= smaLongPeriod {
		sma200 = talib.Sma(closes, smaLongPeriod)
	}
	if n >= rsiPeriod+1 {
		rsi14 = talib.Rsi(closes, rsiPeriod)
	}
	if n >= macdSlow+macdSignal {
		macdLine, signalLine, histLine = talib.Macd(closes, macdFast, macdSlow, macdSignal)
	}
	if n >= atrPeriod+1 {
		atr14 = talib.Atr(highs, lows, closes, atrPeriod)
	}

	rows := make([]domain.IndicatorRow, 0, n)
	for i, b := range sorted {
		row := domain.IndicatorRow{
			Symbol: domain.NormalizeSymbol(symbol),
			Date:   b.Ts.UTC().Format("2006-01-02"),
			Close:  b.Close,
		}

		row.EMA20 = valueAt(ema20, i, emaFastPeriod-1)
		row.EMA50 = valueAt(ema50, i, emaSlowPeriod-1)
		row.SMA100 = valueAt(sma100, i, smaMidPeriod-1)
		row.SMA200 = valueAt(sma200, i, smaLongPeriod-1)
		row.RSI14 = valueAt(rsi14, i, rsiPeriod)
		row.MACD = valueAt(macdLine, i, macdSlow-1)
		row.MACDSignal = valueAt(signalLine, i, macdSlow+macdSignal-2)
		row.MACDHist = valueAt(histLine, i, macdSlow+macdSignal-2)
		row.ATR14 = valueAt(atr14, i, atrPeriod)

		row.TrendUp = row.EMA20 != nil && row.EMA50 != nil && *row.EMA20 > *row.EMA50
		row.AboveSMA = row.SMA200 != nil && b.Close > *row.SMA200

		rows = append(rows, row)
	}
	return rows, nil
}

// valueAt returns the indicator value at index i, nil inside the warmup
// window or when talib produced a non-finite value.
func valueAt(series []float64, i, firstValid int) *float64 {
	if series == nil || i < firstValid || i >= len(series) {
		return nil
	}
	v := series[i]
	if !finite(v) {
		return nil
	}
	return &v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
