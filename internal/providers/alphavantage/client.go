// Package alphavantage implements the Alpha Vantage market data provider.
// It covers daily and intraday bars, quotes, fundamentals, earnings,
// financial statements, corporate actions, and news.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/clientdata"
	"github.com/quantpane/marketsync/internal/providers"
)

const (
	// ProviderName identifies this client in registries and audit records.
	ProviderName = "alphavantage"

	defaultBaseURL = "https://www.alphavantage.co"

	// Free tier allows 25 requests/day, premium 75/min. The limiter is
	// configured for the premium budget; override via Config for free keys.
	defaultRequestsPerMinute = 75

	defaultTimeout         = 30 * time.Second
	defaultRateLimitWindow = time.Minute
)

// Config holds Alpha Vantage client configuration.
type Config struct {
	APIKey            string
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration // per-request HTTP timeout
	RateLimitWindow   time.Duration // window RequestsPerMinute is spread over
}

// Client is the Alpha Vantage API client.
type Client struct {
	providers.Unimplemented

	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *providers.RateLimiter
	log        zerolog.Logger
	cacheRepo  *clientdata.Repository
}

// NewClient creates a new Alpha Vantage client.
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
		apiKey:        cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:   providers.NewRateLimiter(float64(rpm)/window.Seconds(), 2),
		log:       log.With().Str("component", "alphavantage").Logger(),
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
		providers.CapFundamentals,
		providers.CapEarnings,
		providers.CapNews,
		providers.CapCorporateActions,
		providers.CapStatements,
		providers.CapSymbolDetails,
	}
}

// HealthCheck issues a minimal quote request to verify connectivity and
// credentials. Results are cached by the providers.HealthChecker wrapper.
func (c *Client) HealthCheck(ctx context.Context) error {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", "IBM")

	var resp globalQuoteResponse
	return c.doRequest(ctx, "health_check", params, &resp)
}

// doRequest performs a GET against the query endpoint, maps HTTP and
// API-level failures to the provider error taxonomy, and decodes into dest.
func (c *Client) doRequest(ctx context.Context, op string, params url.Values, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return providers.NewError(ProviderName, op, providers.KindNetwork, err)
	}

	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return providers.NewError(ProviderName, op, providers.KindNetwork, err)
	}

	c.log.Debug().Str("op", op).Str("function", params.Get("function")).Msg("Making Alpha Vantage request")

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
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	// Alpha Vantage reports failures inside a 200 response. Throttling and
	// premium-only endpoints share the Note/Information channel; the wording
	// is the only way to tell a retryable budget from a plan ceiling.
	var apiErr apiErrorEnvelope
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Note != "" || apiErr.Information != "" {
			msg := apiErr.Note
			if msg == "" {
				msg = apiErr.Information
			}
			kind := providers.KindRateLimited
			if lower := strings.ToLower(msg); strings.Contains(lower, "premium") || strings.Contains(lower, "subscri") {
				kind = providers.KindPlanLimited
			}
			return providers.NewError(ProviderName, op, kind, fmt.Errorf("%s", truncate(msg, 200)))
		}
		if apiErr.ErrorMessage != "" {
			return providers.NewError(ProviderName, op, providers.KindNotFound, fmt.Errorf("%s", truncate(apiErr.ErrorMessage, 200)))
		}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return providers.NewError(ProviderName, op, providers.KindParse, err)
	}

	return nil
}

// apiErrorEnvelope captures the in-band failure fields Alpha Vantage puts
// in otherwise-200 responses.
type apiErrorEnvelope struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

// parseFloat converts an Alpha Vantage numeric string to a float pointer.
// "None", "-", and empty values return nil.
func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" || s == "-" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// parseInt converts a numeric string to an int64 pointer.
func parseInt(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" || s == "-" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
