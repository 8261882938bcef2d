package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"stockapi/market"
)

const yahooUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// YahooProvider 美股/港股通用数据源（Yahoo Finance chart/search 接口）
type YahooProvider struct {
	client *resty.Client
}

func NewYahooProvider() *YahooProvider {
	client := resty.New().
		SetBaseURL("https://query1.finance.yahoo.com").
		SetTimeout(10 * time.Second).
		SetHeader("User-Agent", yahooUserAgent)
	return &YahooProvider{client: client}
}

// SetBaseURL 覆盖上游地址（测试用）
func (yp *YahooProvider) SetBaseURL(base string) {
	yp.client.SetBaseURL(base)
}

func (yp *YahooProvider) Name() string {
	return "yahoo"
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				ShortName          string  `json:"shortName"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (yp *YahooProvider) fetchChart(ctx context.Context, yfSymbol string, params map[string]string) (*chartResponse, error) {
	resp, err := yp.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/v8/finance/chart/" + yfSymbol)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("yahoo chart: status %d", resp.StatusCode())
	}

	var chart chartResponse
	if err := json.Unmarshal(resp.Body(), &chart); err != nil {
		return nil, err
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo chart: empty result for %s", yfSymbol)
	}
	return &chart, nil
}

// FetchQuote 获取实时快照
func (yp *YahooProvider) FetchQuote(ctx context.Context, symbol string) (*market.Quote, error) {
	yfSymbol := toYahooSymbol(symbol)
	chart, err := yp.fetchChart(ctx, yfSymbol, map[string]string{
		"range":    "1d",
		"interval": "1d",
	})
	if err != nil {
		return nil, err
	}

	result := chart.Chart.Result[0]
	if result.Meta.RegularMarketPrice == 0 {
		return nil, fmt.Errorf("no market price for %s", yfSymbol)
	}

	quote := &market.Quote{
		Symbol: symbol,
		Name:   result.Meta.ShortName,
		Price:  result.Meta.RegularMarketPrice,
		Market: inferMarket(yfSymbol),
	}
	if quote.Name == "" {
		quote.Name = symbol
	}

	if len(result.Indicators.Quote) > 0 && len(result.Timestamp) > 0 {
		q := result.Indicators.Quote[0]
		last := len(result.Timestamp) - 1
		quote.Open = deref(q.Open, last)
		quote.High = deref(q.High, last)
		quote.Low = deref(q.Low, last)
		quote.Volume = deref(q.Volume, last)
	}
	return quote, nil
}

// FetchDailyBars 获取[startDate, endDate]的日K线
func (yp *YahooProvider) FetchDailyBars(ctx context.Context, symbol, startDate, endDate string) ([]market.Bar, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, err
	}

	yfSymbol := toYahooSymbol(symbol)
	chart, err := yp.fetchChart(ctx, yfSymbol, map[string]string{
		"period1":  fmt.Sprintf("%d", start.Unix()),
		"period2":  fmt.Sprintf("%d", end.AddDate(0, 0, 1).Unix()),
		"interval": "1d",
		"events":   "history",
	})
	if err != nil {
		return nil, err
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := result.Indicators.Quote[0]

	var bars []market.Bar
	for i, ts := range result.Timestamp {
		if i >= len(q.Close) || q.Close[i] == nil {
			continue
		}
		bars = append(bars, market.Bar{
			Date:   time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Open:   deref(q.Open, i),
			High:   deref(q.High, i),
			Low:    deref(q.Low, i),
			Close:  *q.Close[i],
			Volume: deref(q.Volume, i),
		})
	}
	return bars, nil
}

// SearchByName Yahoo搜索接口，仅保留股票/ETF/基金
func (yp *YahooProvider) SearchByName(ctx context.Context, name string) ([]market.Listing, error) {
	resp, err := yp.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":           name,
			"quotesCount": "10",
			"newsCount":   "0",
		}).
		Get("/v1/finance/search")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("yahoo search: status %d", resp.StatusCode())
	}

	var result struct {
		Quotes []struct {
			Symbol    string `json:"symbol"`
			ShortName string `json:"shortname"`
			LongName  string `json:"longname"`
			QuoteType string `json:"quoteType"`
		} `json:"quotes"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, err
	}

	var listings []market.Listing
	for _, q := range result.Quotes {
		switch q.QuoteType {
		case "EQUITY", "ETF", "MUTUALFUND":
		default:
			continue
		}
		entryName := q.ShortName
		if entryName == "" {
			entryName = q.LongName
		}
		if entryName == "" {
			entryName = q.Symbol
		}
		listings = append(listings, market.Listing{
			Symbol: q.Symbol,
			Name:   entryName,
			Market: inferMarket(q.Symbol),
		})
	}
	return listings, nil
}

// ListMarket Yahoo不提供全量列表
func (yp *YahooProvider) ListMarket(ctx context.Context, mkt string) ([]market.Listing, error) {
	return nil, nil
}

// BatchQuotes 逐个获取；失败的条目直接跳过
func (yp *YahooProvider) BatchQuotes(ctx context.Context, symbols []string) ([]market.Quote, error) {
	var quotes []market.Quote
	for _, symbol := range symbols {
		quote, err := yp.FetchQuote(ctx, symbol)
		if err != nil {
			continue
		}
		quotes = append(quotes, *quote)
	}
	return quotes, nil
}

// toYahooSymbol maps a symbol to the Yahoo wire form. Bare 6-digit CN codes
// get an exchange suffix by leading digit (6 -> .SS, 0/3 -> .SZ,
// 4/8 -> .BJ); legacy sh/sz prefixes map the same way; anything else is
// already in Yahoo form. This is the provider query key, distinct from
// market.NormalizeCode which produces the storage key.
func toYahooSymbol(symbol string) string {
	if len(symbol) == 6 && isDigits(symbol) {
		switch symbol[0] {
		case '6':
			return symbol + ".SS"
		case '0', '3':
			return symbol + ".SZ"
		case '4', '8':
			return symbol + ".BJ"
		}
		return symbol
	}
	if len(symbol) == 8 && isDigits(symbol[2:]) {
		switch strings.ToLower(symbol[:2]) {
		case "sh":
			return symbol[2:] + ".SS"
		case "sz":
			return symbol[2:] + ".SZ"
		}
	}
	return symbol
}

func inferMarket(yfSymbol string) string {
	switch {
	case strings.HasSuffix(yfSymbol, ".SS"), strings.HasSuffix(yfSymbol, ".SZ"), strings.HasSuffix(yfSymbol, ".BJ"):
		return "CN"
	case strings.HasSuffix(yfSymbol, ".HK"):
		return "HK"
	default:
		return "US"
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func deref(values []*float64, i int) float64 {
	if i < 0 || i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}
