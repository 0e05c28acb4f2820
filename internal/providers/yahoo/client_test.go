package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpane/marketsync/internal/providers"
)

// newTestClient points a client at a stub server that routes on path prefix.
func newTestClient(t *testing.T, routes map[string]string) *Client {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for prefix, body := range routes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
				return
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	return NewClient(Config{BaseURL: server.URL, RequestsPerMinute: 100000}, nil, zerolog.Nop())
}

const chartBody = `{
	"chart": {
		"result": [{
			"meta": {"currency": "USD", "exchangeName": "NMS", "regularMarketPrice": 187.5, "regularMarketTime": 1704229200},
			"timestamp": [1704207000, 1704293400, 1704379800],
			"indicators": {
				"quote": [{
					"open": [100.0, null, 102.0],
					"high": [101.0, 103.0, 104.0],
					"low": [99.0, 100.5, 101.5],
					"close": [100.5, 102.5, 103.5],
					"volume": [1000, 2000, null]
				}],
				"adjclose": [{"adjclose": [100.0, 102.0, null]}]
			},
			"events": {
				"dividends": {"1704207000": {"amount": 0.24, "date": 1704207000}},
				"splits": {"1704293400": {"numerator": 4, "denominator": 1, "date": 1704293400}}
			}
		}],
		"error": null
	}
}`

func TestDailyBarsDropNullRowsAndNormalize(t *testing.T) {
	client := newTestClient(t, map[string]string{"/v8/finance/chart/": chartBody})

	bars, err := client.DailyBars(context.Background(), "aapl", time.Time{}, time.Time{})
	require.NoError(t, err)

	// Row with null open is dropped.
	require.Len(t, bars, 2)

	// Daily bars are re-stamped at midnight UTC of the trading date.
	assert.Equal(t, 0, bars[0].Ts.Hour())
	assert.Equal(t, 0, bars[0].Ts.Minute())
	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.Equal(t, ProviderName, bars[0].Source)

	// Adjusted close applies when present, falls back to close when null.
	assert.Equal(t, 100.0, bars[0].AdjClose)
	assert.Equal(t, 103.5, bars[1].AdjClose)

	// Null volume becomes zero.
	assert.Equal(t, int64(0), bars[1].Volume)
}

func TestQuoteFromChartMeta(t *testing.T) {
	client := newTestClient(t, map[string]string{"/v8/finance/chart/": chartBody})

	quote, err := client.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 187.5, quote.Price)
	assert.True(t, quote.Ts.Equal(time.Unix(1704229200, 0).UTC()))
}

func TestChartErrorMapsToNotFound(t *testing.T) {
	client := newTestClient(t, map[string]string{
		"/v8/finance/chart/": `{"chart": {"result": null, "error": {"code": "Not Found", "description": "No data found"}}}`,
	})

	_, err := client.DailyBars(context.Background(), "NOPE", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.Equal(t, providers.KindNotFound, providers.KindOf(err))
}

func TestCorporateActionsFromEvents(t *testing.T) {
	client := newTestClient(t, map[string]string{"/v8/finance/chart/": chartBody})

	actions, err := client.CorporateActions(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "dividend", actions[0].ActionType)
	assert.Equal(t, 0.24, actions[0].Value)
	assert.Equal(t, "split", actions[1].ActionType)
	assert.Equal(t, 4.0, actions[1].Value)
}

func TestPeers(t *testing.T) {
	client := newTestClient(t, map[string]string{
		"/v6/finance/recommendationsbysymbol/": `{"finance": {"result": [{"symbol": "AAPL", "recommendedSymbols": [{"symbol": "MSFT", "score": 0.3}, {"symbol": "AAPL", "score": 0.2}, {"symbol": "GOOG", "score": 0.1}]}]}}`,
		"/v10/finance/quoteSummary/":            `{"quoteSummary": {"result": [{"assetProfile": {"sector": "Technology", "industry": "Consumer Electronics"}, "price": {"shortName": "Apple Inc.", "currency": "USD", "exchangeName": "NMS"}}]}}`,
	})

	peers, err := client.Peers(context.Background(), "AAPL")
	require.NoError(t, err)

	// The subject symbol itself is filtered out of its own peer list.
	require.Len(t, peers.Peers, 2)
	assert.Equal(t, "MSFT", peers.Peers[0].Symbol)
	assert.Equal(t, "GOOG", peers.Peers[1].Symbol)
	require.NotNil(t, peers.Sector)
	assert.Equal(t, "Technology", *peers.Sector)
}

func TestSymbolDetails(t *testing.T) {
	client := newTestClient(t, map[string]string{
		"/v10/finance/quoteSummary/": `{"quoteSummary": {"result": [{"assetProfile": {"sector": "Technology", "industry": "Consumer Electronics", "longBusinessSummary": "Designs stuff."}, "price": {"shortName": "Apple Inc.", "currency": "USD", "exchangeName": "NMS"}}]}}`,
	})

	details, err := client.SymbolDetails(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", details.Name)
	require.NotNil(t, details.Industry)
	assert.Equal(t, "Consumer Electronics", *details.Industry)
}

func TestCapabilities(t *testing.T) {
	client := newTestClient(t, nil)
	assert.Equal(t, ProviderName, client.Name())
	assert.True(t, providers.Supports(client, providers.CapDailyBars))
	assert.True(t, providers.Supports(client, providers.CapPeers))
	assert.False(t, providers.Supports(client, providers.CapStatements))

	// Unsupported capability goes through the embedded stubs.
	_, err := client.Fundamentals(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Equal(t, providers.KindUnsupported, providers.KindOf(err))
}
