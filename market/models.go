package market

import "time"

// Quote 实时行情快照
type Quote struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Volume float64 `json:"volume"`
	Market string  `json:"market"` // CN, US, HK
}

// Bar 单日K线，日期统一为 YYYY-MM-DD
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Stock 股票基础信息（持久化实体）
type Stock struct {
	Code       string    `json:"code"`
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	Market     string    `json:"market"`
	Type       string    `json:"type"`
	UpdateTime time.Time `json:"update_time"`
}

// Listing 市场列表条目
type Listing struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Market string `json:"market"`
}
