package market

import "math"

// IndicatorRow 单个交易日的行情与衍生指标
// MA/BOLL fields are nil until enough trailing bars exist for the window.
type IndicatorRow struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`

	MA5   *float64 `json:"ma5"`
	MA20  *float64 `json:"ma20"`
	MA50  *float64 `json:"ma50"`
	MA120 *float64 `json:"ma120"`

	DIF  float64 `json:"dif"`
	DEA  float64 `json:"dea"`
	MACD float64 `json:"macd"`

	Mid   *float64 `json:"mid"`
	Upper *float64 `json:"upper"`
	Lower *float64 `json:"lower"`

	TD9 int `json:"td9"`
}

// CalculateMA returns the trailing simple moving average series.
// The first window-1 entries are nil.
func CalculateMA(closes []float64, window int) []*float64 {
	out := make([]*float64, len(closes))
	if window <= 0 {
		return out
	}
	sum := 0.0
	for i, c := range closes {
		sum += c
		if i >= window {
			sum -= closes[i-window]
		}
		if i >= window-1 {
			v := sum / float64(window)
			out[i] = &v
		}
	}
	return out
}

// CalculateEMA returns the recursive exponential moving average series,
// seeded with the first value (ewm adjust=false semantics).
func CalculateEMA(values []float64, span int) []float64 {
	ema := make([]float64, len(values))
	if len(values) == 0 {
		return ema
	}
	alpha := 2.0 / float64(span+1)
	ema[0] = values[0]
	for i := 1; i < len(values); i++ {
		ema[i] = ema[i-1] + alpha*(values[i]-ema[i-1])
	}
	return ema
}

// CalculateMACD returns the dif, dea and macd series.
// dif = EMA(close,fast) - EMA(close,slow); dea = EMA(dif,signal);
// macd = (dif - dea) * 2.
func CalculateMACD(closes []float64, fast, slow, signal int) (dif, dea, macd []float64) {
	emaFast := CalculateEMA(closes, fast)
	emaSlow := CalculateEMA(closes, slow)

	dif = make([]float64, len(closes))
	for i := range closes {
		dif[i] = emaFast[i] - emaSlow[i]
	}
	dea = CalculateEMA(dif, signal)
	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = (dif[i] - dea[i]) * 2
	}
	return dif, dea, macd
}

// CalculateBoll returns the Bollinger band series (mid, upper, lower).
// std is the trailing sample standard deviation over the window; entries
// before window-1 are nil.
func CalculateBoll(closes []float64, window int, k float64) (mid, upper, lower []*float64) {
	mid = CalculateMA(closes, window)
	upper = make([]*float64, len(closes))
	lower = make([]*float64, len(closes))
	if window < 2 {
		return mid, upper, lower
	}

	for i := window - 1; i < len(closes); i++ {
		mean := *mid[i]
		var ss float64
		for j := i - window + 1; j <= i; j++ {
			d := closes[j] - mean
			ss += d * d
		}
		std := math.Sqrt(ss / float64(window-1))
		u := mean + k*std
		l := mean - k*std
		upper[i] = &u
		lower[i] = &l
	}
	return mid, upper, lower
}

// CalculateTDSetup returns the TD9-style sequential setup counter.
//
// For each row i >= 4 close[i] is compared with close[i-4]: a drop extends
// the buy run (positive output), a rise extends the sell run (negative
// output), equality resets both. Rows before index 4 emit 0. The counter
// intentionally keeps counting past 9; a run of 11 drops emits 11.
func CalculateTDSetup(closes []float64) []int {
	out := make([]int, len(closes))
	buy, sell := 0, 0
	for i := 4; i < len(closes); i++ {
		switch {
		case closes[i] < closes[i-4]:
			buy++
			sell = 0
		case closes[i] > closes[i-4]:
			sell++
			buy = 0
		default:
			buy, sell = 0, 0
		}
		if buy > 0 {
			out[i] = buy
		} else if sell > 0 {
			out[i] = -sell
		}
	}
	return out
}

// ComputeIndicators derives the full indicator table over a date-ordered
// series of bars. Gaps are not filled; they simply shorten the effective
// window of the rolling computations. All outputs are rounded to three
// decimals for presentation.
func ComputeIndicators(bars []Bar) []IndicatorRow {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	ma5 := CalculateMA(closes, 5)
	ma20 := CalculateMA(closes, 20)
	ma50 := CalculateMA(closes, 50)
	ma120 := CalculateMA(closes, 120)
	dif, dea, macd := CalculateMACD(closes, 12, 26, 9)
	mid, upper, lower := CalculateBoll(closes, 20, 2)
	td := CalculateTDSetup(closes)

	rows := make([]IndicatorRow, len(bars))
	for i, b := range bars {
		rows[i] = IndicatorRow{
			Date:   b.Date,
			Open:   Round3(b.Open),
			High:   Round3(b.High),
			Low:    Round3(b.Low),
			Close:  Round3(b.Close),
			Volume: b.Volume,
			MA5:    round3p(ma5[i]),
			MA20:   round3p(ma20[i]),
			MA50:   round3p(ma50[i]),
			MA120:  round3p(ma120[i]),
			DIF:    Round3(dif[i]),
			DEA:    Round3(dea[i]),
			MACD:   Round3(macd[i]),
			Mid:    round3p(mid[i]),
			Upper:  round3p(upper[i]),
			Lower:  round3p(lower[i]),
			TD9:    td[i],
		}
	}
	return rows
}

// Round3 rounds to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func round3p(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := Round3(*v)
	return &r
}
