package yahoo

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/providers"
)

// chartResponse mirrors the v8 chart API. Price arrays are parallel to the
// timestamp array; null entries decode to NaN-free zero pointers.
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Currency           string  `json:"currency"`
		ExchangeName       string  `json:"exchangeName"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
		RegularMarketTime  int64   `json:"regularMarketTime"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
	Events struct {
		Dividends map[string]struct {
			Amount float64 `json:"amount"`
			Date   int64   `json:"date"`
		} `json:"dividends"`
		Splits map[string]struct {
			Numerator   float64 `json:"numerator"`
			Denominator float64 `json:"denominator"`
			Date        int64   `json:"date"`
		} `json:"splits"`
	} `json:"events"`
}

// fetchChart queries the chart endpoint. Exactly one of rangeSpec or
// period must be set; events is optional ("div", "split", "div|split").
func (c *Client) fetchChart(ctx context.Context, op, symbol, interval, rangeSpec string, period *[2]time.Time) (*chartResult, error) {
	params := url.Values{}
	params.Set("interval", interval)
	if period != nil {
		params.Set("period1", strconv.FormatInt(period[0].Unix(), 10))
		params.Set("period2", strconv.FormatInt(period[1].Unix(), 10))
	} else {
		params.Set("range", rangeSpec)
	}
	params.Set("events", "div|split")

	var resp chartResponse
	path := "/v8/finance/chart/" + symbol + "?" + params.Encode()
	if err := c.doGet(ctx, op, path, &resp); err != nil {
		return nil, err
	}

	if resp.Chart.Error != nil {
		kind := providers.KindUnavailable
		if resp.Chart.Error.Code == "Not Found" {
			kind = providers.KindNotFound
		}
		return nil, providers.NewError(ProviderName, op, kind,
			fmt.Errorf("%s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description))
	}
	if len(resp.Chart.Result) == 0 {
		return nil, providers.NewError(ProviderName, op, providers.KindParse,
			fmt.Errorf("empty chart result for %s", symbol))
	}

	return &resp.Chart.Result[0], nil
}

// DailyBars fetches daily bars within [from, to]. Yahoo stamps daily bars
// at the session open; they are normalized to midnight UTC of the trading
// date so both providers agree on daily keys.
func (c *Client) DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	symbol = domain.NormalizeSymbol(symbol)

	period := chartPeriod(from, to)
	result, err := c.fetchChart(ctx, "daily_bars", symbol, "1d", "max", period)
	if err != nil {
		return nil, err
	}

	bars := c.extractBars(symbol, result, "1d", true)
	sort.Slice(bars, func(i, j int) bool { return bars[i].Ts.Before(bars[j].Ts) })
	return bars, nil
}

// IntradayBars fetches intraday bars. Yahoo only serves recent intraday
// history, which suits gap backfills of the last few sessions.
func (c *Client) IntradayBars(ctx context.Context, symbol string, interval time.Duration, from, to time.Time) ([]domain.Bar, error) {
	symbol = domain.NormalizeSymbol(symbol)

	if interval != 15*time.Minute {
		return nil, providers.NewError(ProviderName, "intraday_bars", providers.KindUnsupported,
			fmt.Errorf("unsupported intraday interval %s", interval))
	}

	period := chartPeriod(from, to)
	result, err := c.fetchChart(ctx, "intraday_bars", symbol, "15m", "5d", period)
	if err != nil {
		return nil, err
	}

	bars := c.extractBars(symbol, result, "15m", false)
	sort.Slice(bars, func(i, j int) bool { return bars[i].Ts.Before(bars[j].Ts) })
	return bars, nil
}

// CorporateActions fetches dividends and splits from chart events.
func (c *Client) CorporateActions(ctx context.Context, symbol string, from, to time.Time) ([]domain.CorporateAction, error) {
	symbol = domain.NormalizeSymbol(symbol)

	period := chartPeriod(from, to)
	result, err := c.fetchChart(ctx, "corporate_actions", symbol, "1d", "max", period)
	if err != nil {
		return nil, err
	}

	inRange := func(ts time.Time) bool {
		if !from.IsZero() && ts.Before(from) {
			return false
		}
		if !to.IsZero() && ts.After(to) {
			return false
		}
		return true
	}

	var actions []domain.CorporateAction
	for _, div := range result.Events.Dividends {
		ts := time.Unix(div.Date, 0).UTC()
		if div.Amount <= 0 || !inRange(ts) {
			continue
		}
		actions = append(actions, domain.CorporateAction{
			Symbol:     symbol,
			ActionDate: ts.Format("2006-01-02"),
			ActionType: domain.ActionDividend,
			Value:      div.Amount,
			Source:     ProviderName,
		})
	}
	for _, split := range result.Events.Splits {
		ts := time.Unix(split.Date, 0).UTC()
		if split.Denominator == 0 || !inRange(ts) {
			continue
		}
		ratio := split.Numerator / split.Denominator
		if ratio <= 0 {
			continue
		}
		actions = append(actions, domain.CorporateAction{
			Symbol:     symbol,
			ActionDate: ts.Format("2006-01-02"),
			ActionType: domain.ActionSplit,
			Value:      ratio,
			Source:     ProviderName,
		})
	}

	sort.Slice(actions, func(i, j int) bool {
		if actions[i].ActionDate != actions[j].ActionDate {
			return actions[i].ActionDate < actions[j].ActionDate
		}
		return actions[i].ActionType < actions[j].ActionType
	})
	return actions, nil
}

// extractBars converts the parallel chart arrays into normalized bars.
// Rows with null, non-finite, or non-positive prices are dropped.
func (c *Client) extractBars(symbol string, result *chartResult, interval string, daily bool) []domain.Bar {
	if len(result.Indicators.Quote) == 0 {
		return nil
	}
	quote := result.Indicators.Quote[0]

	var adjCloses []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjCloses = result.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]domain.Bar, 0, len(result.Timestamp))
	for i, unix := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			break
		}
		open, high, low, closePx := quote.Open[i], quote.High[i], quote.Low[i], quote.Close[i]
		if open == nil || high == nil || low == nil || closePx == nil {
			continue
		}
		valid := true
		for _, v := range []float64{*open, *high, *low, *closePx} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}

		ts := time.Unix(unix, 0).UTC()
		if daily {
			// Daily keys are the trading date at midnight UTC.
			ts = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		}

		adjClose := *closePx
		if daily && i < len(adjCloses) && adjCloses[i] != nil {
			if v := *adjCloses[i]; !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0 {
				adjClose = v
			}
		}

		var volume int64
		if i < len(quote.Volume) && quote.Volume[i] != nil && *quote.Volume[i] >= 0 {
			volume = *quote.Volume[i]
		}

		bars = append(bars, domain.Bar{
			Symbol:   symbol,
			Ts:       ts,
			Interval: interval,
			Open:     *open,
			High:     *high,
			Low:      *low,
			Close:    *closePx,
			AdjClose: adjClose,
			Volume:   volume,
			Source:   ProviderName,
		})
	}
	return bars
}

// chartPeriod converts a [from, to] pair into a chart period, returning
// nil when both bounds are zero so the range parameter applies instead.
func chartPeriod(from, to time.Time) *[2]time.Time {
	if from.IsZero() && to.IsZero() {
		return nil
	}
	if from.IsZero() {
		from = time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	// period2 is exclusive at second granularity; include the whole day.
	return &[2]time.Time{from, to.Add(24 * time.Hour)}
}
