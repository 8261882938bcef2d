package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockapi/service"
)

// Handler API处理器集合
type Handler struct {
	resolver *service.Resolver
	log      *zap.SugaredLogger
}

// NewHandler 创建处理器
func NewHandler(resolver *service.Resolver, log *zap.SugaredLogger) *Handler {
	return &Handler{resolver: resolver, log: log}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/stock/search", h.handleSearch)
	mux.HandleFunc("GET /api/stock/price", h.handleBatchPrice)
	mux.HandleFunc("GET /api/stock/market/{market}", h.handleMarket)
	mux.HandleFunc("GET /api/stock/{symbol}", h.handleStockInfo)
	mux.HandleFunc("GET /api/stock/{symbol}/price", h.handleHistory)
	mux.HandleFunc("GET /api/stock/{symbol}/indicators", h.handleIndicators)
}

// apiResponse 统一响应结构
type apiResponse struct {
	Code  int         `json:"code"`
	Msg   string      `json:"msg"`
	Data  interface{} `json:"data,omitempty"`
	Total int         `json:"total,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeSuccess(w http.ResponseWriter, data interface{}, total int) {
	writeJSON(w, http.StatusOK, apiResponse{Code: 0, Msg: "success", Data: data, Total: total})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiResponse{Code: -1, Msg: "not found"})
	case errors.Is(err, service.ErrInvalidDate):
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Msg: err.Error()})
	default:
		h.log.Errorw("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Code: -1, Msg: "internal error"})
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]string{"status": "ok"}, 0)
}

// handleSearch 模糊查询股票
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Msg: "name is required"})
		return
	}

	listings, err := h.resolver.Search(r.Context(), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeSuccess(w, listings, len(listings))
}

// handleMarket 获取指定市场的所有股票
func (h *Handler) handleMarket(w http.ResponseWriter, r *http.Request) {
	mkt := strings.ToUpper(r.PathValue("market"))
	stocks, err := h.resolver.ListByMarket(r.Context(), mkt)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeSuccess(w, stocks, len(stocks))
}

// handleBatchPrice 批量获取当前价格；mode=simple返回 symbol->price 映射
func (h *Handler) handleBatchPrice(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query()["symbols"]
	var symbols []string
	for _, s := range raw {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				symbols = append(symbols, part)
			}
		}
	}
	if len(symbols) == 0 {
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Msg: "symbols is required"})
		return
	}

	quotes := h.resolver.BatchGetInfo(r.Context(), symbols)

	if r.URL.Query().Get("mode") == "simple" {
		simple := make(map[string]float64, len(quotes))
		for _, q := range quotes {
			simple[q.Symbol] = q.Price
		}
		writeSuccess(w, simple, len(simple))
		return
	}
	writeSuccess(w, quotes, len(quotes))
}

// handleStockInfo 获取股票信息与当前价格
func (h *Handler) handleStockInfo(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	quote, err := h.resolver.GetStockInfo(r.Context(), symbol)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeSuccess(w, quote, 0)
}

// handleHistory 获取指定日期的历史价格
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	date := r.URL.Query().Get("date")
	if date == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: -1, Msg: "date is required"})
		return
	}

	bar, err := h.resolver.GetHistoryForDate(r.Context(), symbol, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeSuccess(w, bar, 0)
}

// handleIndicators 获取区间行情与技术指标
// 显式start_date/end_date优先，否则按period推算区间
func (h *Handler) handleIndicators(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	q := r.URL.Query()

	startDate, endDate, err := resolveDateRange(q.Get("period"), q.Get("start_date"), q.Get("end_date"), time.Now())
	if err != nil {
		h.writeError(w, err)
		return
	}

	rows, err := h.resolver.GetIndicators(r.Context(), symbol, startDate, endDate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeSuccess(w, rows, len(rows))
}

// resolveDateRange derives the [start, end] window. Explicit dates win;
// an absent start falls back to the period, itself relative to end.
// Supported periods: Nd, Nmo (30d months), Ny (365d years), ytd, max.
// Anything unparsable falls back to the 7-day default.
func resolveDateRange(period, startStr, endStr string, now time.Time) (string, string, error) {
	const layout = "2006-01-02"

	end := now
	if endStr != "" {
		parsed, err := time.Parse(layout, endStr)
		if err != nil {
			return "", "", service.ErrInvalidDate
		}
		end = parsed
	}

	if startStr != "" {
		if _, err := time.Parse(layout, startStr); err != nil {
			return "", "", service.ErrInvalidDate
		}
		return startStr, end.Format(layout), nil
	}

	start := end.AddDate(0, 0, -7)
	p := strings.ToLower(period)
	switch {
	case p == "ytd":
		start = time.Date(end.Year(), 1, 1, 0, 0, 0, 0, end.Location())
	case p == "max":
		start = end.AddDate(-50, 0, 0)
	case strings.HasSuffix(p, "mo"):
		if n, err := strconv.Atoi(strings.TrimSuffix(p, "mo")); err == nil {
			start = end.AddDate(0, 0, -n*30)
		}
	case strings.HasSuffix(p, "d"):
		if n, err := strconv.Atoi(strings.TrimSuffix(p, "d")); err == nil {
			start = end.AddDate(0, 0, -n)
		}
	case strings.HasSuffix(p, "y"):
		if n, err := strconv.Atoi(strings.TrimSuffix(p, "y")); err == nil {
			start = end.AddDate(0, 0, -n*365)
		}
	}
	return start.Format(layout), end.Format(layout), nil
}
