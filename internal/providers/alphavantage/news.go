package alphavantage

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/quantpane/marketsync/internal/domain"
)

type newsResponse struct {
	Feed []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		TimePublished string `json:"time_published"` // 20060102T150405
		Source        string `json:"source"`
		TickerList    []struct {
			Ticker string `json:"ticker"`
		} `json:"ticker_sentiment"`
	} `json:"feed"`
}

// News fetches recent news for a symbol, newest first. Items without a
// parseable publish time are dropped.
func (c *Client) News(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if limit <= 0 {
		limit = 50
	}

	params := url.Values{}
	params.Set("function", "NEWS_SENTIMENT")
	params.Set("tickers", symbol)
	params.Set("limit", "200")
	params.Set("sort", "LATEST")

	var resp newsResponse
	if err := c.doRequest(ctx, "news", params, &resp); err != nil {
		return nil, err
	}

	articles := make([]domain.NewsArticle, 0, len(resp.Feed))
	for _, item := range resp.Feed {
		publishedAt, err := time.Parse("20060102T150405", item.TimePublished)
		if err != nil {
			continue
		}
		if item.Title == "" {
			continue
		}

		var related []string
		for _, t := range item.TickerList {
			ticker := domain.NormalizeSymbol(t.Ticker)
			if ticker != "" && ticker != symbol {
				related = append(related, ticker)
			}
		}

		articles = append(articles, domain.NewsArticle{
			Symbol:         symbol,
			PublishedAt:    publishedAt.UTC(),
			Title:          strings.TrimSpace(item.Title),
			Publisher:      item.Source,
			URL:            item.URL,
			RelatedSymbols: related,
			Source:         ProviderName,
		})
	}

	sort.Slice(articles, func(i, j int) bool { return articles[i].PublishedAt.After(articles[j].PublishedAt) })
	if len(articles) > limit {
		articles = articles[:limit]
	}
	return articles, nil
}

type dividendsResponse struct {
	Data []struct {
		ExDividendDate string `json:"ex_dividend_date"`
		Amount         string `json:"amount"`
	} `json:"data"`
}

type splitsResponse struct {
	Data []struct {
		EffectiveDate string `json:"effective_date"`
		SplitFactor   string `json:"split_factor"`
	} `json:"data"`
}

// CorporateActions fetches dividend and split history within [from, to].
// Both endpoints are queried; a failure of either fails the fetch.
func (c *Client) CorporateActions(ctx context.Context, symbol string, from, to time.Time) ([]domain.CorporateAction, error) {
	symbol = domain.NormalizeSymbol(symbol)

	var fromDate, toDate string
	if !from.IsZero() {
		fromDate = from.UTC().Format("2006-01-02")
	}
	if !to.IsZero() {
		toDate = to.UTC().Format("2006-01-02")
	}
	inRange := func(date string) bool {
		if date == "" {
			return false
		}
		if fromDate != "" && date < fromDate {
			return false
		}
		if toDate != "" && date > toDate {
			return false
		}
		return true
	}

	params := url.Values{}
	params.Set("function", "DIVIDENDS")
	params.Set("symbol", symbol)

	var dividends dividendsResponse
	if err := c.doRequest(ctx, "corporate_actions", params, &dividends); err != nil {
		return nil, err
	}

	params = url.Values{}
	params.Set("function", "SPLITS")
	params.Set("symbol", symbol)

	var splits splitsResponse
	if err := c.doRequest(ctx, "corporate_actions", params, &splits); err != nil {
		return nil, err
	}

	var actions []domain.CorporateAction
	for _, d := range dividends.Data {
		if !inRange(d.ExDividendDate) {
			continue
		}
		amount := parseFloat(d.Amount)
		if amount == nil || *amount <= 0 {
			continue
		}
		actions = append(actions, domain.CorporateAction{
			Symbol:     symbol,
			ActionDate: d.ExDividendDate,
			ActionType: domain.ActionDividend,
			Value:      *amount,
			Source:     ProviderName,
		})
	}
	for _, s := range splits.Data {
		if !inRange(s.EffectiveDate) {
			continue
		}
		factor := parseFloat(s.SplitFactor)
		if factor == nil || *factor <= 0 {
			continue
		}
		actions = append(actions, domain.CorporateAction{
			Symbol:     symbol,
			ActionDate: s.EffectiveDate,
			ActionType: domain.ActionSplit,
			Value:      *factor,
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
