// Package providers 行情数据源适配层
package providers

import (
	"context"

	"stockapi/market"
)

// DataProvider 数据提供者接口
//
// Implementations are market-family specific. Dates are YYYY-MM-DD strings
// at this boundary; FetchDailyBars returns a date-ordered series which may
// be empty. A nil quote with a non-nil error means the upstream could not
// resolve the symbol; callers are expected to degrade, not fail.
type DataProvider interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (*market.Quote, error)
	FetchDailyBars(ctx context.Context, symbol, startDate, endDate string) ([]market.Bar, error)
	SearchByName(ctx context.Context, name string) ([]market.Listing, error)
	ListMarket(ctx context.Context, mkt string) ([]market.Listing, error)
	BatchQuotes(ctx context.Context, symbols []string) ([]market.Quote, error)
}

// Set holds one provider per market family. Dispatch is a pure function of
// the symbol shape (digit-only CN identifiers go to the CN family,
// everything else to the generic provider) so mixed batches are routed per
// symbol rather than by the first entry.
type Set struct {
	CN      DataProvider
	Generic DataProvider
}

// NewSet 构建默认数据源组合；offline 模式下全部走确定性Mock
func NewSet(offline bool) Set {
	if offline {
		mock := NewMockProvider()
		return Set{CN: mock, Generic: mock}
	}
	return Set{CN: NewCNProvider(), Generic: NewYahooProvider()}
}

// ForSymbol 按符号形态选择数据源
func (s Set) ForSymbol(symbol string) DataProvider {
	if market.IsCNCode(symbol) {
		return s.CN
	}
	return s.Generic
}

// ForMarket 按市场选择数据源
func (s Set) ForMarket(mkt string) DataProvider {
	if mkt == "CN" {
		return s.CN
	}
	return s.Generic
}
