package alphavantage

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"time"

	"github.com/quantpane/marketsync/internal/clientdata"
	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/marketcal"
	"github.com/quantpane/marketsync/internal/providers"
)

// rawBar is one OHLCV entry as Alpha Vantage serializes it.
type rawBar struct {
	Open     string `json:"1. open"`
	High     string `json:"2. high"`
	Low      string `json:"3. low"`
	Close    string `json:"4. close"`
	AdjClose string `json:"5. adjusted close"`
	Volume   string `json:"6. volume"`
	// Intraday series put volume in slot 5.
	IntradayVolume string `json:"5. volume"`
}

type dailySeriesResponse struct {
	Series map[string]rawBar `json:"Time Series (Daily)"`
}

type intradaySeriesResponse struct {
	Series15 map[string]rawBar `json:"Time Series (15min)"`
}

type globalQuoteResponse struct {
	Quote struct {
		Symbol        string `json:"01. symbol"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		LatestTrading string `json:"07. latest trading day"`
	} `json:"Global Quote"`
}

// DailyBars fetches the adjusted daily series and returns normalized bars
// within [from, to], ascending by date. Daily bars carry midnight-UTC
// timestamps; adj_close falls back to close when absent.
func (c *Client) DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	symbol = domain.NormalizeSymbol(symbol)

	params := url.Values{}
	params.Set("function", "TIME_SERIES_DAILY_ADJUSTED")
	params.Set("symbol", symbol)
	params.Set("outputsize", "full")

	var resp dailySeriesResponse
	if err := c.doRequest(ctx, "daily_bars", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Series) == 0 {
		return nil, providers.NewError(ProviderName, "daily_bars", providers.KindParse,
			fmt.Errorf("empty daily series for %s", symbol))
	}

	var fromDate, toDate string
	if !from.IsZero() {
		fromDate = from.UTC().Format("2006-01-02")
	}
	if !to.IsZero() {
		toDate = to.UTC().Format("2006-01-02")
	}

	bars := make([]domain.Bar, 0, len(resp.Series))
	for date, raw := range resp.Series {
		if (fromDate != "" && date < fromDate) || (toDate != "" && date > toDate) {
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02", date, time.UTC)
		if err != nil {
			continue
		}
		bar, ok := normalizeBar(symbol, ts, "1d", raw, false)
		if !ok {
			continue
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Ts.Before(bars[j].Ts) })
	return bars, nil
}

// IntradayBars fetches the 15-minute series. Alpha Vantage stamps intraday
// bars in exchange time; they are converted to UTC here.
func (c *Client) IntradayBars(ctx context.Context, symbol string, interval time.Duration, from, to time.Time) ([]domain.Bar, error) {
	symbol = domain.NormalizeSymbol(symbol)

	if interval != 15*time.Minute {
		return nil, providers.NewError(ProviderName, "intraday_bars", providers.KindUnsupported,
			fmt.Errorf("unsupported intraday interval %s", interval))
	}

	params := url.Values{}
	params.Set("function", "TIME_SERIES_INTRADAY")
	params.Set("symbol", symbol)
	params.Set("interval", "15min")
	params.Set("outputsize", "full")

	var resp intradaySeriesResponse
	if err := c.doRequest(ctx, "intraday_bars", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Series15) == 0 {
		return nil, providers.NewError(ProviderName, "intraday_bars", providers.KindParse,
			fmt.Errorf("empty intraday series for %s", symbol))
	}

	bars := make([]domain.Bar, 0, len(resp.Series15))
	for stamp, raw := range resp.Series15 {
		ts, err := time.ParseInLocation("2006-01-02 15:04:05", stamp, marketcal.Location())
		if err != nil {
			continue
		}
		ts = ts.UTC()
		if (!from.IsZero() && ts.Before(from)) || (!to.IsZero() && ts.After(to)) {
			continue
		}
		bar, ok := normalizeBar(symbol, ts, "15m", raw, true)
		if !ok {
			continue
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Ts.Before(bars[j].Ts) })
	return bars, nil
}

// Quote fetches the current price. The short-lived quote cache smooths
// batch refreshes that fan out over many symbols.
func (c *Client) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)

	if c.cacheRepo != nil {
		var cached domain.Quote
		if found, err := c.cacheRepo.GetIfFresh(clientdata.TableCurrentPrices, cacheKey(symbol), &cached); err == nil && found {
			c.log.Debug().Str("symbol", symbol).Msg("Quote cache hit")
			return &cached, nil
		}
	}

	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)

	var resp globalQuoteResponse
	if err := c.doRequest(ctx, "quote", params, &resp); err != nil {
		return nil, err
	}

	price := parseFloat(resp.Quote.Price)
	if price == nil || *price <= 0 {
		return nil, providers.NewError(ProviderName, "quote", providers.KindParse,
			fmt.Errorf("no usable price for %s", symbol))
	}

	quote := &domain.Quote{
		Symbol: symbol,
		Price:  *price,
		Volume: parseInt(resp.Quote.Volume),
		Ts:     time.Now().UTC(),
		Source: ProviderName,
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(clientdata.TableCurrentPrices, cacheKey(symbol), quote, clientdata.TTLCurrentPrice); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache quote")
		}
	}

	return quote, nil
}

// normalizeBar converts a raw series entry into a domain bar. Rows with
// missing, non-finite, or non-positive prices are dropped.
func normalizeBar(symbol string, ts time.Time, interval string, raw rawBar, intraday bool) (domain.Bar, bool) {
	open := parseFloat(raw.Open)
	high := parseFloat(raw.High)
	low := parseFloat(raw.Low)
	closePx := parseFloat(raw.Close)
	if open == nil || high == nil || low == nil || closePx == nil {
		return domain.Bar{}, false
	}
	for _, v := range []float64{*open, *high, *low, *closePx} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return domain.Bar{}, false
		}
	}

	adjClose := *closePx
	if !intraday {
		if adj := parseFloat(raw.AdjClose); adj != nil && !math.IsNaN(*adj) && !math.IsInf(*adj, 0) && *adj > 0 {
			adjClose = *adj
		}
	}

	volumeStr := raw.Volume
	if intraday {
		volumeStr = raw.IntradayVolume
	}
	var volume int64
	if v := parseInt(volumeStr); v != nil && *v >= 0 {
		volume = *v
	}

	return domain.Bar{
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
	}, true
}

// cacheKey prefixes symbols with the provider name so cache tables shared
// by multiple providers never collide.
func cacheKey(symbol string) string {
	return ProviderName + ":" + symbol
}
