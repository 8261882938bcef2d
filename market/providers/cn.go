package providers

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

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"stockapi/market"
)

// CNProvider A股数据源：新浪实时行情 + 东方财富K线/列表
type CNProvider struct {
	client *http.Client
}

func NewCNProvider() *CNProvider {
	return &CNProvider{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (cp *CNProvider) Name() string {
	return "cn"
}

// FetchQuote 从新浪行情接口获取实时快照（GBK编码）
func (cp *CNProvider) FetchQuote(ctx context.Context, symbol string) (*market.Quote, error) {
	sinaSymbol := toSinaSymbol(symbol)
	reqURL := fmt.Sprintf("https://hq.sinajs.cn/list=%s", sinaSymbol)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := cp.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	utf8Reader := transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder())
	body, err := io.ReadAll(utf8Reader)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(string(body), "\"")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid response from sina api")
	}

	data := strings.Split(parts[1], ",")
	if len(data) < 32 {
		return nil, fmt.Errorf("unexpected data format from sina api")
	}

	open, _ := strconv.ParseFloat(data[1], 64)
	price, _ := strconv.ParseFloat(data[3], 64)
	high, _ := strconv.ParseFloat(data[4], 64)
	low, _ := strconv.ParseFloat(data[5], 64)
	volume, _ := strconv.ParseFloat(data[8], 64)

	if price == 0 {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}

	return &market.Quote{
		Symbol: symbol,
		Name:   strings.TrimSpace(data[0]),
		Price:  price,
		Open:   open,
		High:   high,
		Low:    low,
		Volume: volume,
		Market: "CN",
	}, nil
}

// FetchDailyBars 从东方财富获取日K线
func (cp *CNProvider) FetchDailyBars(ctx context.Context, symbol, startDate, endDate string) ([]market.Bar, error) {
	secid := toEastmoneySecID(symbol)
	beg := strings.ReplaceAll(startDate, "-", "")
	end := strings.ReplaceAll(endDate, "-", "")
	reqURL := fmt.Sprintf("https://push2his.eastmoney.com/api/qt/stock/kline/get?secid=%s&fields1=f1,f2,f3&fields2=f51,f52,f53,f54,f55,f56,f57&klt=101&fqt=1&beg=%s&end=%s", secid, beg, end)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "https://quote.eastmoney.com/")

	resp, err := cp.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Data struct {
			Klines []string `json:"klines"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	var bars []market.Bar
	for _, line := range result.Data.Klines {
		// f51..f57: date,open,close,high,low,volume,turnover
		parts := strings.Split(line, ",")
		if len(parts) < 6 {
			continue
		}
		open, _ := strconv.ParseFloat(parts[1], 64)
		closePrice, _ := strconv.ParseFloat(parts[2], 64)
		high, _ := strconv.ParseFloat(parts[3], 64)
		low, _ := strconv.ParseFloat(parts[4], 64)
		volume, _ := strconv.ParseFloat(parts[5], 64)

		bars = append(bars, market.Bar{
			Date:   parts[0],
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}
	return bars, nil
}

// SearchByName 新浪联想接口模糊搜索
func (cp *CNProvider) SearchByName(ctx context.Context, name string) ([]market.Listing, error) {
	reqURL := fmt.Sprintf("https://suggest3.sinajs.cn/suggest/type=11&key=%s", url.QueryEscape(name))

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := cp.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	utf8Reader := transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder())
	body, err := io.ReadAll(utf8Reader)
	if err != nil {
		return nil, err
	}

	payload := string(body)
	start := strings.Index(payload, "\"")
	end := strings.LastIndex(payload, "\"")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("invalid suggest response")
	}

	var listings []market.Listing
	for _, entry := range strings.Split(payload[start+1:end], ";") {
		fields := strings.Split(entry, ",")
		if len(fields) < 5 || fields[3] == "" {
			continue
		}
		listings = append(listings, market.Listing{
			Symbol: fields[3],
			Name:   fields[4],
			Market: "CN",
		})
		if len(listings) >= 10 {
			break
		}
	}
	return listings, nil
}

// ListMarket 东方财富沪深全量列表；其它市场返回空
func (cp *CNProvider) ListMarket(ctx context.Context, mkt string) ([]market.Listing, error) {
	if mkt != "CN" {
		return nil, nil
	}

	reqURL := "https://push2.eastmoney.com/api/qt/clist/get?pn=1&pz=10000&po=1&np=1&fltt=2&invt=2&fid=f12&fs=m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23&fields=f12,f14"

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "https://quote.eastmoney.com/")

	resp, err := cp.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Data struct {
			Diff []struct {
				Code string `json:"f12"`
				Name string `json:"f14"`
			} `json:"diff"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	listings := make([]market.Listing, 0, len(result.Data.Diff))
	for _, item := range result.Data.Diff {
		listings = append(listings, market.Listing{
			Symbol: item.Code,
			Name:   item.Name,
			Market: "CN",
		})
	}
	return listings, nil
}

// BatchQuotes 逐个获取；失败的条目直接跳过
func (cp *CNProvider) BatchQuotes(ctx context.Context, symbols []string) ([]market.Quote, error) {
	var quotes []market.Quote
	for _, symbol := range symbols {
		quote, err := cp.FetchQuote(ctx, symbol)
		if err != nil {
			continue
		}
		quotes = append(quotes, *quote)
	}
	return quotes, nil
}

// toSinaSymbol maps a canonical or legacy CN symbol to the sina wire form
// (sh600000 / sz000001 / bj430047).
func toSinaSymbol(symbol string) string {
	code := market.NormalizeCode(symbol)
	if len(code) == 6 {
		switch code[0] {
		case '6':
			return "sh" + code
		case '0', '3':
			return "sz" + code
		case '4', '8':
			return "bj" + code
		}
	}
	return strings.ToLower(symbol)
}

// toEastmoneySecID maps to the eastmoney secid form: 1.<code> for Shanghai,
// 0.<code> for Shenzhen and Beijing.
func toEastmoneySecID(symbol string) string {
	code := market.NormalizeCode(symbol)
	if len(code) == 6 && code[0] == '6' {
		return "1." + code
	}
	return "0." + code
}
