// Package service 三级查找与指标计算的核心编排
package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"stockapi/db"
	"stockapi/market"
	"stockapi/market/providers"
)

var (
	// ErrNotFound 任何层级都找不到数据
	ErrNotFound = errors.New("not found")
	// ErrInvalidDate 日期不是YYYY-MM-DD
	ErrInvalidDate = errors.New("invalid date format, expected YYYY-MM-DD")
)

const (
	dateLayout      = "2006-01-02"
	infoCachePrefix = "info:"
	infoCacheTTL    = 24 * time.Hour
	providerTimeout = 15 * time.Second
	searchLimit     = 20

	// historyPadDays widens a single-date fetch so weekends, holidays and
	// off-by-one provider date semantics still land the requested day.
	historyPadDays = 10

	// indicatorLookbackDays is a heuristic calendar-day buffer meant to
	// yield at least ~120 trading days of history, enough to stabilize
	// MA120, MACD and the Bollinger window before the requested range.
	indicatorLookbackDays = 250
)

// ByteCache 缓存抽象；实现必须把内部故障降级为miss
type ByteCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte, ttl time.Duration)
}

// Resolver 组合缓存、持久层与数据源的三级查找编排器
//
// Lookup order within a request is strictly cache -> store -> provider;
// each tier's miss is the precondition for the next. Successful provider
// fetches are written through to the store and cache. There is no
// single-flight dedup: concurrent cold requests for one symbol may both
// hit the provider, which is wasteful but safe because stock upserts are
// overwrite-idempotent and bar upserts are insert-if-absent.
type Resolver struct {
	store     *db.Store
	cache     ByteCache
	providers providers.Set
	log       *zap.SugaredLogger
}

// NewResolver 创建Resolver
func NewResolver(store *db.Store, cache ByteCache, set providers.Set, log *zap.SugaredLogger) *Resolver {
	return &Resolver{
		store:     store,
		cache:     cache,
		providers: set,
		log:       log,
	}
}

// GetStockInfo 获取实时快照：缓存 -> 数据源（成功后写穿存储与缓存）
func (r *Resolver) GetStockInfo(ctx context.Context, symbol string) (*market.Quote, error) {
	cacheKey := infoCachePrefix + symbol
	if data, ok := r.cache.Get(cacheKey); ok {
		var quote market.Quote
		if err := json.Unmarshal(data, &quote); err == nil {
			return &quote, nil
		}
	}

	pctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	provider := r.providers.ForSymbol(symbol)
	quote, err := provider.FetchQuote(pctx, symbol)
	if err != nil || quote == nil {
		if err != nil {
			r.log.Debugw("provider quote failed", "provider", provider.Name(), "symbol", symbol, "error", err)
		}
		return nil, ErrNotFound
	}

	code := market.NormalizeCode(symbol)
	stock := market.Stock{
		Code:       code,
		Symbol:     code,
		Name:       quote.Name,
		Market:     quote.Market,
		Type:       "stock",
		UpdateTime: time.Now().UTC(),
	}
	if err := r.store.UpsertStock(stock); err != nil {
		return nil, err
	}

	if data, err := json.Marshal(quote); err == nil {
		r.cache.Set(cacheKey, data, infoCacheTTL)
	}
	return quote, nil
}

// GetHistoryForDate 获取指定日期的K线：存储命中直接返回，
// 否则向数据源拉取±10天区间并写穿存储
func (r *Resolver) GetHistoryForDate(ctx context.Context, symbol, date string) (*market.Bar, error) {
	target, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, ErrInvalidDate
	}

	code := market.NormalizeCode(symbol)
	bar, err := r.store.FindBar(code, date)
	if err != nil {
		return nil, err
	}
	if bar != nil {
		rounded := roundBar(*bar)
		return &rounded, nil
	}

	startDate := target.AddDate(0, 0, -historyPadDays).Format(dateLayout)
	endDate := target.AddDate(0, 0, historyPadDays).Format(dateLayout)

	pctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	provider := r.providers.ForSymbol(symbol)
	bars, err := provider.FetchDailyBars(pctx, symbol, startDate, endDate)
	if err != nil {
		r.log.Warnw("provider history failed", "provider", provider.Name(), "symbol", symbol, "error", err)
		bars = nil
	}

	if len(bars) > 0 {
		if err := r.persistBars(ctx, symbol, code, bars); err != nil {
			return nil, err
		}
	}

	for i := range bars {
		if bars[i].Date == date {
			rounded := roundBar(bars[i])
			return &rounded, nil
		}
	}
	return nil, ErrNotFound
}

// persistBars 确保stocks存在对应记录后逐条写入K线
func (r *Resolver) persistBars(ctx context.Context, symbol, code string, bars []market.Bar) error {
	stock, err := r.store.FindStock(code)
	if err != nil {
		return err
	}
	if stock == nil {
		// Bars need a parent stock row; resolve basic info first.
		if _, err := r.GetStockInfo(ctx, symbol); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		stock, err = r.store.FindStock(code)
		if err != nil {
			return err
		}
	}
	if stock == nil {
		r.log.Warnw("skipping bar persistence, stock unresolved", "symbol", symbol)
		return nil
	}

	for _, bar := range bars {
		if err := r.store.UpsertBar(code, bar); err != nil {
			return err
		}
	}
	return nil
}

// GetIndicators 获取区间行情与技术指标
//
// The provider range is widened to startDate-250d so the longest moving
// average and the MACD/Bollinger recursions have settled before the
// requested window; the computed table is then trimmed back to
// [startDate, endDate] inclusive.
func (r *Resolver) GetIndicators(ctx context.Context, symbol, startDate, endDate string) ([]market.IndicatorRow, error) {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return nil, ErrInvalidDate
	}
	if _, err := time.Parse(dateLayout, endDate); err != nil {
		return nil, ErrInvalidDate
	}

	fetchStart := start.AddDate(0, 0, -indicatorLookbackDays).Format(dateLayout)

	pctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	provider := r.providers.ForSymbol(symbol)
	bars, err := provider.FetchDailyBars(pctx, symbol, fetchStart, endDate)
	if err != nil {
		r.log.Warnw("provider history failed", "provider", provider.Name(), "symbol", symbol, "error", err)
		bars = nil
	}

	rows := market.ComputeIndicators(bars)
	trimmed := make([]market.IndicatorRow, 0, len(rows))
	for _, row := range rows {
		if row.Date >= startDate && row.Date <= endDate {
			trimmed = append(trimmed, row)
		}
	}
	return trimmed, nil
}

// Search 本地存储模糊查找，上限20条
func (r *Resolver) Search(ctx context.Context, name string) ([]market.Listing, error) {
	stocks, err := r.store.Search(name, searchLimit)
	if err != nil {
		return nil, err
	}
	listings := make([]market.Listing, 0, len(stocks))
	for _, stock := range stocks {
		listings = append(listings, market.Listing{
			Symbol: stock.Symbol,
			Name:   stock.Name,
			Market: stock.Market,
		})
	}
	return listings, nil
}

// ListByMarket 某市场的全部股票
func (r *Resolver) ListByMarket(ctx context.Context, mkt string) ([]market.Stock, error) {
	return r.store.ListByMarket(mkt)
}

// BatchGetInfo 批量获取快照；逐个符号独立路由，失败的条目静默丢弃
func (r *Resolver) BatchGetInfo(ctx context.Context, symbols []string) []market.Quote {
	quotes := make([]market.Quote, 0, len(symbols))
	for _, symbol := range symbols {
		quote, err := r.GetStockInfo(ctx, symbol)
		if err != nil {
			continue
		}
		quotes = append(quotes, *quote)
	}
	return quotes
}

func roundBar(bar market.Bar) market.Bar {
	bar.Open = market.Round3(bar.Open)
	bar.High = market.Round3(bar.High)
	bar.Low = market.Round3(bar.Low)
	bar.Close = market.Round3(bar.Close)
	return bar
}
