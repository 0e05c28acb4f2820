// Package yahoo implements the Yahoo Finance market data provider. It is
// the designated fallback for price data and the primary source for
// industry peers.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/clientdata"
	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/providers"
)

const (
	// ProviderName identifies this client in registries and audit records.
	ProviderName = "yahoo"

	defaultBaseURL = "https://query1.finance.yahoo.com"

	// Yahoo has no published budget; stay polite.
	defaultRequestsPerMinute = 120

	defaultTimeout         = 30 * time.Second
	defaultRateLimitWindow = time.Minute
)

// Config holds Yahoo client configuration.
type Config struct {
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration // per-request HTTP timeout
	RateLimitWindow   time.Duration // window RequestsPerMinute is spread over
}

// Client is the Yahoo Finance API client.
type Client struct {
	providers.Unimplemented

	baseURL    string
	httpClient *http.Client
	limiter    *providers.RateLimiter
	log        zerolog.Logger
	cacheRepo  *clientdata.Repository
}

// NewClient creates a new Yahoo Finance client.
// cacheRepo is optional - if nil, response caching is disabled.
func NewClient(cfg Config, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	return &Client{
		Unimplemented: providers.Unimplemented{Provider: ProviderName},
		baseURL:       baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:   providers.NewRateLimiter(float64(rpm)/window.Seconds(), 4),
		log:       log.With().Str("component", "yahoo").Logger(),
		cacheRepo: cacheRepo,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Capabilities lists what this provider can serve.
func (c *Client) Capabilities() []providers.Capability {
	return []providers.Capability{
		providers.CapDailyBars,
		providers.CapIntradayBars,
		providers.CapQuote,
		providers.CapPeers,
		providers.CapCorporateActions,
		providers.CapSymbolDetails,
	}
}

// HealthCheck fetches a one-day chart for a liquid symbol.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.fetchChart(ctx, "health_check", "SPY", "1d", "5d", nil)
	return err
}

// doGet performs a GET request and decodes the JSON response into dest.
func (c *Client) doGet(ctx context.Context, op, path string, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return providers.NewError(ProviderName, op, providers.KindNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return providers.NewError(ProviderName, op, providers.KindNetwork, err)
	}
	// Yahoo rejects requests without a browser-ish user agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; marketsync/1.0)")

	c.log.Debug().Str("op", op).Str("path", path).Msg("Making Yahoo request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.NewError(ProviderName, op, providers.KindFromTransport(err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.NewError(ProviderName, op, providers.KindNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		return providers.NewError(ProviderName, op, providers.KindFromStatus(resp.StatusCode),
			fmt.Errorf("status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return providers.NewError(ProviderName, op, providers.KindParse, err)
	}

	return nil
}

// Quote fetches the current price from the chart meta block.
func (c *Client) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)

	if c.cacheRepo != nil {
		var cached domain.Quote
		if found, err := c.cacheRepo.GetIfFresh(clientdata.TableCurrentPrices, cacheKey(symbol), &cached); err == nil && found {
			c.log.Debug().Str("symbol", symbol).Msg("Quote cache hit")
			return &cached, nil
		}
	}

	result, err := c.fetchChart(ctx, "quote", symbol, "1d", "1d", nil)
	if err != nil {
		return nil, err
	}

	if result.Meta.RegularMarketPrice <= 0 {
		return nil, providers.NewError(ProviderName, "quote", providers.KindParse,
			fmt.Errorf("no usable price for %s", symbol))
	}

	ts := time.Now().UTC()
	if result.Meta.RegularMarketTime > 0 {
		ts = time.Unix(result.Meta.RegularMarketTime, 0).UTC()
	}

	quote := &domain.Quote{
		Symbol: symbol,
		Price:  result.Meta.RegularMarketPrice,
		Ts:     ts,
		Source: ProviderName,
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(clientdata.TableCurrentPrices, cacheKey(symbol), quote, clientdata.TTLCurrentPrice); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache quote")
		}
	}

	return quote, nil
}

type recommendationsResponse struct {
	Finance struct {
		Result []struct {
			Symbol             string `json:"symbol"`
			RecommendedSymbols []struct {
				Symbol string  `json:"symbol"`
				Score  float64 `json:"score"`
			} `json:"recommendedSymbols"`
		} `json:"result"`
	} `json:"finance"`
}

// Peers fetches related symbols. Sector and industry are filled from the
// asset profile when available; a profile failure only degrades the result.
func (c *Client) Peers(ctx context.Context, symbol string) (*domain.IndustryPeers, error) {
	symbol = domain.NormalizeSymbol(symbol)

	if c.cacheRepo != nil {
		var cached domain.IndustryPeers
		if found, err := c.cacheRepo.GetIfFresh(clientdata.TablePeers, cacheKey(symbol), &cached); err == nil && found {
			c.log.Debug().Str("symbol", symbol).Msg("Peers cache hit")
			return &cached, nil
		}
	}

	var resp recommendationsResponse
	if err := c.doGet(ctx, "industry_peers", "/v6/finance/recommendationsbysymbol/"+symbol, &resp); err != nil {
		if c.cacheRepo != nil {
			var stale domain.IndustryPeers
			if found, cacheErr := c.cacheRepo.Get(clientdata.TablePeers, cacheKey(symbol), &stale); cacheErr == nil && found {
				c.log.Warn().Err(err).Str("symbol", symbol).Msg("API failed, using stale cached peers")
				return &stale, nil
			}
		}
		return nil, err
	}

	if len(resp.Finance.Result) == 0 {
		return nil, providers.NewError(ProviderName, "industry_peers", providers.KindNotFound,
			fmt.Errorf("no recommendations for %s", symbol))
	}

	peers := &domain.IndustryPeers{
		Symbol: symbol,
		Source: ProviderName,
	}
	for _, rec := range resp.Finance.Result[0].RecommendedSymbols {
		peer := domain.NormalizeSymbol(rec.Symbol)
		if peer == "" || peer == symbol {
			continue
		}
		peers.Peers = append(peers.Peers, domain.Peer{Symbol: peer})
	}

	if details, err := c.SymbolDetails(ctx, symbol); err == nil {
		peers.Sector = details.Sector
		peers.Industry = details.Industry
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(clientdata.TablePeers, cacheKey(symbol), peers, clientdata.TTLPeers); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache peers")
		}
	}

	return peers, nil
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			AssetProfile struct {
				Sector              string `json:"sector"`
				Industry            string `json:"industry"`
				LongBusinessSummary string `json:"longBusinessSummary"`
			} `json:"assetProfile"`
			Price struct {
				ShortName    string `json:"shortName"`
				Currency     string `json:"currency"`
				ExchangeName string `json:"exchangeName"`
			} `json:"price"`
		} `json:"result"`
	} `json:"quoteSummary"`
}

// SymbolDetails fetches the asset profile. Cached for 30 days.
func (c *Client) SymbolDetails(ctx context.Context, symbol string) (*domain.SymbolDetails, error) {
	symbol = domain.NormalizeSymbol(symbol)

	if c.cacheRepo != nil {
		var cached domain.SymbolDetails
		if found, err := c.cacheRepo.GetIfFresh(clientdata.TableSymbolDetails, cacheKey(symbol), &cached); err == nil && found {
			return &cached, nil
		}
	}

	var resp quoteSummaryResponse
	path := "/v10/finance/quoteSummary/" + symbol + "?modules=assetProfile%2Cprice"
	if err := c.doGet(ctx, "symbol_details", path, &resp); err != nil {
		if c.cacheRepo != nil {
			var stale domain.SymbolDetails
			if found, cacheErr := c.cacheRepo.Get(clientdata.TableSymbolDetails, cacheKey(symbol), &stale); cacheErr == nil && found {
				c.log.Warn().Err(err).Str("symbol", symbol).Msg("API failed, using stale cached symbol details")
				return &stale, nil
			}
		}
		return nil, err
	}

	if len(resp.QuoteSummary.Result) == 0 {
		return nil, providers.NewError(ProviderName, "symbol_details", providers.KindNotFound,
			fmt.Errorf("no profile for %s", symbol))
	}

	result := resp.QuoteSummary.Result[0]
	name := result.Price.ShortName
	if name == "" {
		name = symbol
	}

	details := &domain.SymbolDetails{
		Symbol:      symbol,
		Name:        name,
		Exchange:    optString(result.Price.ExchangeName),
		Currency:    optString(result.Price.Currency),
		Sector:      optString(result.AssetProfile.Sector),
		Industry:    optString(result.AssetProfile.Industry),
		Description: optString(result.AssetProfile.LongBusinessSummary),
		Source:      ProviderName,
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(clientdata.TableSymbolDetails, cacheKey(symbol), details, clientdata.TTLSymbolDetails); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache symbol details")
		}
	}

	return details, nil
}

// cacheKey prefixes symbols with the provider name so cache tables shared
// by multiple providers never collide.
func cacheKey(symbol string) string {
	return ProviderName + ":" + symbol
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
