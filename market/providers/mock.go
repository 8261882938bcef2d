package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"stockapi/market"
)

// MockProvider 离线模式与测试用的确定性数据源
//
// Prices are a pure function of (symbol, date) so repeated calls and
// repeated test runs always see identical series.
type MockProvider struct {
	base  map[string]float64
	names map[string]string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		base: map[string]float64{
			"600000":  7.50,
			"601398":  5.20,
			"600519":  1800.00,
			"600036":  32.00,
			"000858":  150.00,
			"000001":  12.50,
			"300750":  180.00,
			"002594":  250.00,
			"AAPL":    180.00,
			"MSFT":    400.00,
			"GOOG":    140.00,
			"0700.HK": 320.00,
			"9988.HK": 80.00,
		},
		names: map[string]string{
			"600000":  "浦发银行",
			"601398":  "工商银行",
			"600519":  "贵州茅台",
			"600036":  "招商银行",
			"000858":  "五粮液",
			"000001":  "平安银行",
			"300750":  "宁德时代",
			"002594":  "比亚迪",
			"AAPL":    "Apple Inc.",
			"MSFT":    "Microsoft Corporation",
			"GOOG":    "Alphabet Inc.",
			"0700.HK": "Tencent Holdings",
			"9988.HK": "Alibaba Group",
		},
	}
}

func (mp *MockProvider) Name() string {
	return "mock"
}

func (mp *MockProvider) lookup(symbol string) (float64, string, error) {
	code := market.NormalizeCode(symbol)
	base, ok := mp.base[code]
	if !ok {
		return 0, "", fmt.Errorf("mock: unknown symbol %s", symbol)
	}
	return base, mp.names[code], nil
}

func (mp *MockProvider) FetchQuote(ctx context.Context, symbol string) (*market.Quote, error) {
	base, name, err := mp.lookup(symbol)
	if err != nil {
		return nil, err
	}

	today := time.Now().UTC().Format("2006-01-02")
	price := mp.closeFor(symbol, base, today)

	return &market.Quote{
		Symbol: symbol,
		Name:   name,
		Price:  price,
		Open:   price * 0.995,
		High:   price * 1.01,
		Low:    price * 0.99,
		Volume: float64(1000000 + hash32(symbol+today)%9000000),
		Market: marketFor(market.NormalizeCode(symbol)),
	}, nil
}

func (mp *MockProvider) FetchDailyBars(ctx context.Context, symbol, startDate, endDate string) ([]market.Bar, error) {
	base, _, err := mp.lookup(symbol)
	if err != nil {
		return nil, err
	}
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, err
	}

	var bars []market.Bar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		date := d.Format("2006-01-02")
		closePrice := mp.closeFor(symbol, base, date)
		openPrice := mp.closeFor(symbol, base, date+"o")
		bars = append(bars, market.Bar{
			Date:   date,
			Open:   openPrice,
			High:   math.Max(openPrice, closePrice) * 1.005,
			Low:    math.Min(openPrice, closePrice) * 0.995,
			Close:  closePrice,
			Volume: float64(1000000 + hash32(symbol+date)%9000000),
		})
	}
	return bars, nil
}

func (mp *MockProvider) SearchByName(ctx context.Context, name string) ([]market.Listing, error) {
	var listings []market.Listing
	for code, stockName := range mp.names {
		if strings.Contains(stockName, name) || strings.Contains(code, name) {
			listings = append(listings, market.Listing{
				Symbol: code,
				Name:   stockName,
				Market: marketFor(code),
			})
		}
	}
	return listings, nil
}

func (mp *MockProvider) ListMarket(ctx context.Context, mkt string) ([]market.Listing, error) {
	var listings []market.Listing
	for code, name := range mp.names {
		if marketFor(code) == mkt {
			listings = append(listings, market.Listing{
				Symbol: code,
				Name:   name,
				Market: mkt,
			})
		}
	}
	return listings, nil
}

func (mp *MockProvider) BatchQuotes(ctx context.Context, symbols []string) ([]market.Quote, error) {
	var quotes []market.Quote
	for _, symbol := range symbols {
		quote, err := mp.FetchQuote(ctx, symbol)
		if err != nil {
			continue
		}
		quotes = append(quotes, *quote)
	}
	return quotes, nil
}

// closeFor derives a stable pseudo-random close around the base price with
// roughly +-5% spread per day.
func (mp *MockProvider) closeFor(symbol string, base float64, date string) float64 {
	h := hash32(symbol + ":" + date)
	swing := (float64(h%10000)/10000.0 - 0.5) * 0.1
	return market.Round3(base * (1 + swing))
}

func marketFor(code string) string {
	switch {
	case isDigits(code):
		return "CN"
	case strings.HasSuffix(code, ".HK"):
		return "HK"
	default:
		return "US"
	}
}

func hash32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
