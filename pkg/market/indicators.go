package market

import (
	"time"

	"github.com/TFMV/quarry/pkg/models"
)

const (
	// RSIWindow is the Wilder RSI period.
	RSIWindow = 14
	// SMAWindow is the moving average period of the summary.
	SMAWindow = 50

	rsiOversold   = 30
	rsiOverbought = 70
)

// RSI zones.
const (
	ZoneOversold   = "OVERSOLD"
	ZoneOverbought = "OVERBOUGHT"
	ZoneNeutral    = "NEUTRAL"
)

// SMA returns the mean of the last window prices.
func SMA(prices []float64, window int) (float64, bool) {
	if window <= 0 || len(prices) < window {
		return 0, false
	}
	var sum float64
	for _, p := range prices[len(prices)-window:] {
		sum += p
	}
	return sum / float64(window), true
}

// RSI returns the Wilder relative strength index series. The first value is
// seeded from plain averages of the first window changes. It needs at least
// window+1 prices.
func RSI(prices []float64, window int) []float64 {
	if window <= 0 || len(prices) < window+1 {
		return nil
	}

	gains := make([]float64, len(prices)-1)
	losses := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gains[i-1] = d
		} else {
			losses[i-1] = -d
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < window; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(window)
	avgLoss /= float64(window)

	out := []float64{rsiValue(avgGain, avgLoss)}
	w := float64(window)
	for i := window; i < len(gains); i++ {
		avgGain = (avgGain*(w-1) + gains[i]) / w
		avgLoss = (avgLoss*(w-1) + losses[i]) / w
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// LatestRSI returns the last RSI value.
func LatestRSI(prices []float64, window int) (float64, bool) {
	series := RSI(prices, window)
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}

// RSIZone classifies an RSI value.
func RSIZone(rsi float64) string {
	switch {
	case rsi < rsiOversold:
		return ZoneOversold
	case rsi > rsiOverbought:
		return ZoneOverbought
	default:
		return ZoneNeutral
	}
}

// Signal scores price against SMA and the RSI zone. Each available input is
// one vote; a neutral RSI splits its vote. Returns the signal and the bullish
// share in percent.
func Signal(price, sma, rsi *float64) (string, float64) {
	var bullish, total float64
	if price != nil && sma != nil {
		total++
		if *price > *sma {
			bullish++
		}
	}
	if rsi != nil {
		total++
		switch RSIZone(*rsi) {
		case ZoneOversold:
			bullish++
		case ZoneNeutral:
			bullish += 0.5
		}
	}
	if total == 0 {
		return models.SignalNeutral, 0
	}

	pct := bullish / total * 100
	switch {
	case pct >= 70:
		return models.SignalBullish, pct
	case pct <= 30:
		return models.SignalBearish, pct
	default:
		return models.SignalNeutral, pct
	}
}

// Summarize derives the technical summary from the price history and the
// upstream SMA series. The local SMA is used when upstream has none. It
// returns nil without a latest close.
func Summarize(history *models.Aggregates, sma *models.Indicator) *models.TechnicalSummary {
	closes := history.Closes()
	if len(closes) == 0 {
		return nil
	}

	latest := closes[len(closes)-1]
	summary := &models.TechnicalSummary{LatestClose: &latest}

	if v, ok := sma.Latest(); ok {
		summary.SMA50 = &v
	} else if v, ok := SMA(closes, SMAWindow); ok {
		summary.SMA50 = &v
	}
	if summary.SMA50 != nil {
		if latest > *summary.SMA50 {
			summary.PriceVsSMA = "above"
		} else {
			summary.PriceVsSMA = "below"
		}
	}

	if v, ok := LatestRSI(closes, RSIWindow); ok {
		summary.RSI14 = &v
		summary.RSIZone = RSIZone(v)
	}

	summary.Signal, summary.BullishPct = Signal(summary.LatestClose, summary.SMA50, summary.RSI14)
	return summary
}

// LatestTradingDay returns the most recent weekday strictly before now's
// date. Weekends map to the preceding Friday. Holidays are not considered.
func LatestTradingDay(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch day.Weekday() {
	case time.Saturday:
		return day.AddDate(0, 0, -1)
	case time.Sunday:
		return day.AddDate(0, 0, -2)
	case time.Monday:
		return day.AddDate(0, 0, -3)
	default:
		return day.AddDate(0, 0, -1)
	}
}
