package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"stockapi/db"
	"stockapi/market"
	"stockapi/market/providers"
)

// fakeProvider 可编程的测试数据源，记录调用情况
type fakeProvider struct {
	mu sync.Mutex

	name       string
	quotes     map[string]*market.Quote
	bars       []market.Bar
	barsErr    error
	listings   map[string][]market.Listing
	listingErr error

	quoteCalls   int
	barCalls     int
	listCalls    int
	quoteSymbols []string
	lastBarStart string
	lastBarEnd   string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) FetchQuote(ctx context.Context, symbol string) (*market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	f.quoteSymbols = append(f.quoteSymbols, symbol)
	if q, ok := f.quotes[symbol]; ok {
		copied := *q
		return &copied, nil
	}
	return nil, fmt.Errorf("fake: unknown symbol %s", symbol)
}

func (f *fakeProvider) FetchDailyBars(ctx context.Context, symbol, startDate, endDate string) ([]market.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.barCalls++
	f.lastBarStart = startDate
	f.lastBarEnd = endDate
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	return f.bars, nil
}

func (f *fakeProvider) SearchByName(ctx context.Context, name string) ([]market.Listing, error) {
	return nil, nil
}

func (f *fakeProvider) ListMarket(ctx context.Context, mkt string) ([]market.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listingErr != nil {
		return nil, f.listingErr
	}
	return f.listings[mkt], nil
}

func (f *fakeProvider) BatchQuotes(ctx context.Context, symbols []string) ([]market.Quote, error) {
	return nil, nil
}

// fakeCache map实现；disabled时所有操作都当作miss/no-op
type fakeCache struct {
	mu       sync.Mutex
	m        map[string][]byte
	disabled bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{m: make(map[string][]byte)}
}

func (c *fakeCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return nil, false
	}
	data, ok := c.m[key]
	return data, ok
}

func (c *fakeCache) Set(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return
	}
	c.m[key] = data
}

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestResolver(t *testing.T, cn, generic *fakeProvider) (*Resolver, *db.Store, *fakeCache) {
	t.Helper()
	store := newTestStore(t)
	cache := newFakeCache()
	set := providers.Set{CN: cn, Generic: generic}
	resolver := NewResolver(store, cache, set, zap.NewNop().Sugar())
	return resolver, store, cache
}

func cnQuote() *market.Quote {
	return &market.Quote{Symbol: "600000", Name: "浦发银行", Price: 7.5, Open: 7.4, High: 7.6, Low: 7.3, Volume: 100000, Market: "CN"}
}

func TestGetStockInfoWriteThrough(t *testing.T) {
	cn := &fakeProvider{name: "cn", quotes: map[string]*market.Quote{"600000": cnQuote()}}
	resolver, store, _ := newTestResolver(t, cn, &fakeProvider{name: "generic"})

	quote, err := resolver.GetStockInfo(context.Background(), "600000")
	if err != nil {
		t.Fatal(err)
	}
	if quote.Price != 7.5 {
		t.Errorf("Expected price 7.5, got %f", quote.Price)
	}

	stock, err := store.FindStock("600000")
	if err != nil {
		t.Fatal(err)
	}
	if stock == nil {
		t.Fatal("Expected the stock to be written through to the store")
	}
	if stock.Symbol != "600000" || stock.Market != "CN" {
		t.Errorf("Unexpected stored stock: %+v", stock)
	}

	// second call must be served from cache
	if _, err := resolver.GetStockInfo(context.Background(), "600000"); err != nil {
		t.Fatal(err)
	}
	if cn.quoteCalls != 1 {
		t.Errorf("Expected a single provider call, got %d", cn.quoteCalls)
	}
}

func TestGetStockInfoCacheKeyedByRawSymbol(t *testing.T) {
	cn := &fakeProvider{name: "cn", quotes: map[string]*market.Quote{
		"600000":   cnQuote(),
		"sh600000": cnQuote(),
	}}
	resolver, _, _ := newTestResolver(t, cn, &fakeProvider{name: "generic"})

	resolver.GetStockInfo(context.Background(), "600000")
	resolver.GetStockInfo(context.Background(), "sh600000")

	// distinct raw spellings do not share a cache entry
	if cn.quoteCalls != 2 {
		t.Errorf("Expected 2 provider calls for distinct raw symbols, got %d", cn.quoteCalls)
	}
}

func TestGetStockInfoLegacyPrefixStoredNormalized(t *testing.T) {
	cn := &fakeProvider{name: "cn", quotes: map[string]*market.Quote{"sh600000": cnQuote()}}
	resolver, store, _ := newTestResolver(t, cn, &fakeProvider{name: "generic"})

	if _, err := resolver.GetStockInfo(context.Background(), "sh600000"); err != nil {
		t.Fatal(err)
	}

	stock, err := store.FindStock("600000")
	if err != nil {
		t.Fatal(err)
	}
	if stock == nil {
		t.Fatal("Expected the stock stored under the normalized code")
	}
}

func TestGetStockInfoProviderFailure(t *testing.T) {
	resolver, store, _ := newTestResolver(t, &fakeProvider{name: "cn"}, &fakeProvider{name: "generic"})

	_, err := resolver.GetStockInfo(context.Background(), "600000")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	stock, _ := store.FindStock("600000")
	if stock != nil {
		t.Errorf("Expected no store write on provider failure")
	}
}

func TestGetStockInfoDisabledCacheStillWorks(t *testing.T) {
	cn := &fakeProvider{name: "cn", quotes: map[string]*market.Quote{"600000": cnQuote()}}
	resolver, _, cache := newTestResolver(t, cn, &fakeProvider{name: "generic"})
	cache.disabled = true

	for i := 0; i < 3; i++ {
		if _, err := resolver.GetStockInfo(context.Background(), "600000"); err != nil {
			t.Fatal(err)
		}
	}
	// every call falls through to the provider, none of them fails
	if cn.quoteCalls != 3 {
		t.Errorf("Expected 3 provider calls with a dead cache, got %d", cn.quoteCalls)
	}
}

func TestGetHistoryInvalidDate(t *testing.T) {
	resolver, _, _ := newTestResolver(t, &fakeProvider{name: "cn"}, &fakeProvider{name: "generic"})

	_, err := resolver.GetHistoryForDate(context.Background(), "600000", "08/03/2024")
	if !errors.Is(err, ErrInvalidDate) {
		t.Errorf("Expected ErrInvalidDate, got %v", err)
	}
}

func TestGetHistoryStoreHit(t *testing.T) {
	cn := &fakeProvider{name: "cn"}
	resolver, store, _ := newTestResolver(t, cn, &fakeProvider{name: "generic"})

	store.UpsertStock(market.Stock{Code: "600000", Symbol: "600000", Name: "浦发银行", Market: "CN", Type: "stock", UpdateTime: time.Now().UTC()})
	store.UpsertBar("600000", market.Bar{Date: "2024-03-08", Open: 7.4, High: 7.6, Low: 7.3, Close: 7.5012, Volume: 100000})

	bar, err := resolver.GetHistoryForDate(context.Background(), "600000", "2024-03-08")
	if err != nil {
		t.Fatal(err)
	}
	if bar.Close != 7.501 {
		t.Errorf("Expected the stored close rounded to 3 decimals, got %f", bar.Close)
	}
	if cn.barCalls != 0 {
		t.Errorf("Expected no provider call on a store hit, got %d", cn.barCalls)
	}
}

func TestGetHistoryFetchesPaddedRangeAndPersists(t *testing.T) {
	cn := &fakeProvider{
		name:   "cn",
		quotes: map[string]*market.Quote{"600000": cnQuote()},
		bars: []market.Bar{
			{Date: "2024-03-07", Open: 7.3, High: 7.5, Low: 7.2, Close: 7.4, Volume: 90000},
			{Date: "2024-03-08", Open: 7.4, High: 7.6, Low: 7.3, Close: 7.5, Volume: 100000},
			{Date: "2024-03-11", Open: 7.5, High: 7.7, Low: 7.4, Close: 7.6, Volume: 110000},
		},
	}
	resolver, store, _ := newTestResolver(t, cn, &fakeProvider{name: "generic"})

	bar, err := resolver.GetHistoryForDate(context.Background(), "600000", "2024-03-08")
	if err != nil {
		t.Fatal(err)
	}
	if bar.Close != 7.5 {
		t.Errorf("Expected close 7.5, got %f", bar.Close)
	}

	if cn.lastBarStart != "2024-02-27" || cn.lastBarEnd != "2024-03-18" {
		t.Errorf("Expected a +-10 day window, got [%s, %s]", cn.lastBarStart, cn.lastBarEnd)
	}

	// the whole batch is persisted, not just the requested day
	n, err := store.CountBars("600000")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Expected 3 persisted bars, got %d", n)
	}

	// second request is served from the store
	if _, err := resolver.GetHistoryForDate(context.Background(), "600000", "2024-03-08"); err != nil {
		t.Fatal(err)
	}
	if cn.barCalls != 1 {
		t.Errorf("Expected a single provider history call, got %d", cn.barCalls)
	}
}

func TestGetHistoryAbsentDateNotFound(t *testing.T) {
	cn := &fakeProvider{
		name:   "cn",
		quotes: map[string]*market.Quote{"600000": cnQuote()},
		bars: []market.Bar{
			{Date: "2024-03-08", Open: 7.4, High: 7.6, Low: 7.3, Close: 7.5, Volume: 100000},
		},
	}
	resolver, store, _ := newTestResolver(t, cn, &fakeProvider{name: "generic"})

	// 2024-03-09 is a Saturday: the batch comes back without it
	_, err := resolver.GetHistoryForDate(context.Background(), "600000", "2024-03-09")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a non-trading day, got %v", err)
	}

	// the fetched batch is still persisted
	n, _ := store.CountBars("600000")
	if n != 1 {
		t.Errorf("Expected the fetched bar to be persisted, got %d", n)
	}
}

func TestGetHistoryProviderFailureAbsorbed(t *testing.T) {
	cn := &fakeProvider{name: "cn", barsErr: errors.New("upstream down")}
	resolver, _, _ := newTestResolver(t, cn, &fakeProvider{name: "generic"})

	_, err := resolver.GetHistoryForDate(context.Background(), "600000", "2024-03-08")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected a provider failure to surface as ErrNotFound, got %v", err)
	}
}

func TestGetIndicatorsLookbackAndTrim(t *testing.T) {
	var bars []market.Bar
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 180; i++ {
		bars = append(bars, market.Bar{
			Date:   day.Format("2006-01-02"),
			Open:   10,
			High:   11,
			Low:    9,
			Close:  10 + float64(i)*0.01,
			Volume: 1000,
		})
		day = day.AddDate(0, 0, 1)
	}

	cn := &fakeProvider{name: "cn", quotes: map[string]*market.Quote{"600000": cnQuote()}, bars: bars}
	resolver, _, _ := newTestResolver(t, cn, &fakeProvider{name: "generic"})

	rows, err := resolver.GetIndicators(context.Background(), "600000", "2024-06-01", "2024-06-10")
	if err != nil {
		t.Fatal(err)
	}

	if cn.lastBarStart != "2023-09-25" {
		t.Errorf("Expected the fetch start widened by 250 days, got %s", cn.lastBarStart)
	}
	if cn.lastBarEnd != "2024-06-10" {
		t.Errorf("Expected the fetch end unchanged, got %s", cn.lastBarEnd)
	}

	if len(rows) == 0 {
		t.Fatal("Expected rows inside the requested window")
	}
	for _, row := range rows {
		if row.Date < "2024-06-01" || row.Date > "2024-06-10" {
			t.Errorf("Row %s escaped the requested window", row.Date)
		}
	}

	// 180 daily bars give the long windows enough history inside the window
	if rows[0].MA120 == nil {
		t.Errorf("Expected MA120 to be warm at the window start")
	}
}

func TestGetIndicatorsInvalidDates(t *testing.T) {
	resolver, _, _ := newTestResolver(t, &fakeProvider{name: "cn"}, &fakeProvider{name: "generic"})

	if _, err := resolver.GetIndicators(context.Background(), "600000", "bad", "2024-06-10"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("Expected ErrInvalidDate for a bad start, got %v", err)
	}
	if _, err := resolver.GetIndicators(context.Background(), "600000", "2024-06-01", "bad"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("Expected ErrInvalidDate for a bad end, got %v", err)
	}
}

func TestGetIndicatorsEmptyHistory(t *testing.T) {
	cn := &fakeProvider{name: "cn"}
	resolver, _, _ := newTestResolver(t, cn, &fakeProvider{name: "generic"})

	rows, err := resolver.GetIndicators(context.Background(), "600000", "2024-06-01", "2024-06-10")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected an empty table for empty history, got %d rows", len(rows))
	}
}

func TestBatchGetInfoPerSymbolRouting(t *testing.T) {
	cn := &fakeProvider{name: "cn", quotes: map[string]*market.Quote{"600000": cnQuote()}}
	generic := &fakeProvider{name: "generic", quotes: map[string]*market.Quote{
		"AAPL": {Symbol: "AAPL", Name: "Apple Inc.", Price: 180, Market: "US"},
	}}
	resolver, _, _ := newTestResolver(t, cn, generic)

	quotes := resolver.BatchGetInfo(context.Background(), []string{"600000", "AAPL", "ZZZZ"})

	// each symbol routes on its own shape; the unknown one is dropped
	if len(quotes) != 2 {
		t.Fatalf("Expected 2 quotes, got %d", len(quotes))
	}
	if len(cn.quoteSymbols) != 1 || cn.quoteSymbols[0] != "600000" {
		t.Errorf("Expected the CN provider to see only 600000, got %v", cn.quoteSymbols)
	}
	if len(generic.quoteSymbols) != 2 {
		t.Errorf("Expected the generic provider to see AAPL and ZZZZ, got %v", generic.quoteSymbols)
	}
}

func TestSearchUsesLocalStore(t *testing.T) {
	resolver, store, _ := newTestResolver(t, &fakeProvider{name: "cn"}, &fakeProvider{name: "generic"})
	store.UpsertStock(market.Stock{Code: "600000", Symbol: "600000", Name: "浦发银行", Market: "CN", Type: "stock", UpdateTime: time.Now().UTC()})

	listings, err := resolver.Search(context.Background(), "浦发")
	if err != nil {
		t.Fatal(err)
	}
	if len(listings) != 1 || listings[0].Symbol != "600000" {
		t.Errorf("Unexpected search result: %+v", listings)
	}
}

func TestConcurrentColdRequestsSingleRow(t *testing.T) {
	cn := &fakeProvider{name: "cn", quotes: map[string]*market.Quote{"600000": cnQuote()}}
	resolver, store, _ := newTestResolver(t, cn, &fakeProvider{name: "generic"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolver.GetStockInfo(context.Background(), "600000")
		}()
	}
	wg.Wait()

	// duplicate provider calls are allowed, duplicate rows are not
	all, err := store.Search("600000", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("Expected a single stored row after concurrent requests, got %d", len(all))
	}
	if cn.quoteCalls < 1 {
		t.Errorf("Expected at least one provider call")
	}
}
