package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpane/marketsync/internal/domain"
)

func dailySeries(symbol string, n int, start float64) []domain.Bar {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 0, n)
	price := start
	for i := 0; i < n; i++ {
		// Gentle oscillating drift keeps RSI off the rails.
		price += 0.3
		if i%5 == 0 {
			price -= 0.8
		}
		bars = append(bars, domain.Bar{
			Symbol:   symbol,
			Ts:       base.AddDate(0, 0, i),
			Interval: "1d",
			Open:     price - 0.2,
			High:     price + 0.5,
			Low:      price - 0.5,
			Close:    price,
			AdjClose: price,
			Volume:   1_000_000,
			Source:   "alphavantage",
		})
	}
	return bars
}

func fl(v float64) *float64 { return &v }

func TestComputeRowPerBar(t *testing.T) {
	bars := dailySeries("nvda", 250, 100)
	rows, err := Compute("nvda", bars)
	require.NoError(t, err)
	require.Len(t, rows, 250)

	assert.Equal(t, "NVDA", rows[0].Symbol)
	assert.Equal(t, "2024-01-02", rows[0].Date)
	assert.InDelta(t, bars[0].Close, rows[0].Close, 1e-9)
}

func TestComputeWarmupWindowsAreNil(t *testing.T) {
	rows, err := Compute("AAPL", dailySeries("AAPL", 250, 100))
	require.NoError(t, err)

	first := rows[0]
	assert.Nil(t, first.EMA20)
	assert.Nil(t, first.RSI14)
	assert.Nil(t, first.SMA200)
	assert.Nil(t, first.MACD)
	assert.Nil(t, first.ATR14)

	// One bar before each window closes the value is still absent.
	assert.Nil(t, rows[18].EMA20)
	assert.NotNil(t, rows[19].EMA20)
	assert.Nil(t, rows[13].RSI14)
	assert.NotNil(t, rows[14].RSI14)
	assert.Nil(t, rows[198].SMA200)
	assert.NotNil(t, rows[199].SMA200)
	assert.Nil(t, rows[32].MACDSignal)
	assert.NotNil(t, rows[33].MACDSignal)
	assert.Nil(t, rows[13].ATR14)
	assert.NotNil(t, rows[14].ATR14)
}

func TestComputeFlagsConsistentWithValues(t *testing.T) {
	rows, err := Compute("AAPL", dailySeries("AAPL", 250, 100))
	require.NoError(t, err)

	for _, row := range rows {
		if row.EMA20 == nil || row.EMA50 == nil {
			assert.False(t, row.TrendUp, "trend flag requires both EMAs at %s", row.Date)
		} else {
			assert.Equal(t, *row.EMA20 > *row.EMA50, row.TrendUp, "at %s", row.Date)
		}
		if row.SMA200 == nil {
			assert.False(t, row.AboveSMA)
		} else {
			assert.Equal(t, row.Close > *row.SMA200, row.AboveSMA, "at %s", row.Date)
		}
	}
}

func TestComputeShortSeries(t *testing.T) {
	rows, err := Compute("AAPL", dailySeries("AAPL", 10, 100))
	require.NoError(t, err)
	require.Len(t, rows, 10)
	for _, row := range rows {
		assert.Nil(t, row.EMA20)
		assert.Nil(t, row.RSI14)
		assert.Nil(t, row.MACD)
	}
}

func TestComputeSortsUnorderedInput(t *testing.T) {
	bars := dailySeries("AAPL", 30, 100)
	bars[0], bars[29] = bars[29], bars[0]

	rows, err := Compute("AAPL", bars)
	require.NoError(t, err)
	require.Len(t, rows, 30)
	assert.Equal(t, "2024-01-02", rows[0].Date)
	assert.Equal(t, "2024-01-31", rows[29].Date)
}

func TestComputeRejectsNonFinitePrices(t *testing.T) {
	bars := dailySeries("AAPL", 30, 100)
	bars[5].Close = math.NaN()

	_, err := Compute("AAPL", bars)
	require.Error(t, err)
}

func TestComputeEmptyInput(t *testing.T) {
	rows, err := Compute("AAPL", nil)
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestSwingTrendBuy(t *testing.T) {
	rows := []domain.IndicatorRow{{
		Symbol:   "AAPL",
		Date:     "2024-12-02",
		Close:    210,
		EMA20:    fl(205),
		EMA50:    fl(200),
		SMA200:   fl(180),
		RSI14:    fl(55),
		TrendUp:  true,
		AboveSMA: true,
	}}

	sig, err := SwingTrend{}.Evaluate(rows, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, sig.Action)
	assert.InDelta(t, 0.8, sig.Confidence, 1e-9)
	assert.Equal(t, "2024-12-02", sig.Metadata["date"])
}

func TestSwingTrendSell(t *testing.T) {
	rows := []domain.IndicatorRow{{
		Symbol: "AAPL",
		Date:   "2024-12-02",
		Close:  150,
		EMA20:  fl(155),
		EMA50:  fl(160),
		SMA200: fl(180),
		RSI14:  fl(35),
	}}

	sig, err := SwingTrend{}.Evaluate(rows, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionSell, sig.Action)
}

func TestSwingTrendHoldOnOverbought(t *testing.T) {
	rows := []domain.IndicatorRow{{
		Symbol:   "AAPL",
		Date:     "2024-12-02",
		Close:    210,
		EMA20:    fl(205),
		EMA50:    fl(200),
		SMA200:   fl(180),
		RSI14:    fl(82),
		TrendUp:  true,
		AboveSMA: true,
	}}

	sig, err := SwingTrend{}.Evaluate(rows, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)
}

func TestSwingTrendHoldWithoutHistory(t *testing.T) {
	sig, err := SwingTrend{}.Evaluate([]domain.IndicatorRow{{Symbol: "AAPL", Date: "2024-12-02"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)

	_, err = SwingTrend{}.Evaluate(nil, nil)
	require.Error(t, err)
}

func TestStrategyRegistry(t *testing.T) {
	reg := NewStrategyRegistry()
	assert.Contains(t, reg.Names(), "swing_trend")

	_, err := reg.Execute("no_such_strategy", nil, nil)
	require.Error(t, err)

	rows := []domain.IndicatorRow{{Symbol: "AAPL", Date: "2024-12-02"}}
	sig, err := reg.Execute("swing_trend", rows, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)
}
