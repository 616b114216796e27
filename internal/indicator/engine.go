package indicator

import (
	"math"
	"sort"

	"github.com/papertrade/bot-api/internal/types"
)

// Level is a clustered support or resistance price annotated with how often
// price interacted with it.
type Level struct {
	Price    float64 `json:"price"`
	Touches  int     `json:"touches"`
	Strength float64 `json:"strength"` // [0,1]
}

// SupportResistance holds ranked support and resistance levels.
type SupportResistance struct {
	Supports    []Level `json:"supports"`
	Resistances []Level `json:"resistances"`
	Window      int     `json:"window"`
	MinTouches  int     `json:"min_touches"`
}

// Regression is an ordinary least-squares fit of close against index.
type Regression struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	R2        float64 `json:"r2"`
	Direction string  `json:"trend_direction"` // bullish, bearish, sideways
}

// Volatility bundles dispersion measures over the window.
type Volatility struct {
	StdevReturns  float64 `json:"stdev"`
	ATR           float64 `json:"atr"`
	CoefVariation float64 `json:"price_volatility"`
	MeanPrice     float64 `json:"mean_price"`
	PriceRange    float64 `json:"price_range"`
}

const (
	defaultATRPeriod = 14
	maxLevels        = 5
)

// ComputeSupportResistance clusters recent lows and highs into price levels
// within a tolerance band and ranks them by strength. Deterministic for a
// given window; too few candles yields empty level lists rather than an
// error.
func ComputeSupportResistance(candles []types.MarketCandle, minTouches int) SupportResistance {
	result := SupportResistance{Window: len(candles), MinTouches: minTouches}
	if len(candles) < 2 || minTouches < 1 {
		return result
	}

	lows := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	for i, c := range candles {
		lows[i] = c.Low
		highs[i] = c.High
	}

	tolerance := priceTolerance(candles)
	result.Supports = rankLevels(clusterLevels(lows, tolerance), candles, minTouches)
	result.Resistances = rankLevels(clusterLevels(highs, tolerance), candles, minTouches)
	return result
}

// priceTolerance is the clustering band: 0.5% of the mean close.
func priceTolerance(candles []types.MarketCandle) float64 {
	var sum float64
	for _, c := range candles {
		sum += c.Close
	}
	mean := sum / float64(len(candles))
	return mean * 0.005
}

type cluster struct {
	price   float64
	touches int
}

// clusterLevels groups prices that fall within tolerance of an existing
// cluster, tracking the running mean price and the touch count. Prices are
// processed in sorted order so the grouping does not depend on input order.
func clusterLevels(prices []float64, tolerance float64) []cluster {
	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	var clusters []cluster
	for _, p := range sorted {
		if n := len(clusters); n > 0 && math.Abs(p-clusters[n-1].price) <= tolerance {
			c := &clusters[n-1]
			c.price = (c.price*float64(c.touches) + p) / float64(c.touches+1)
			c.touches++
			continue
		}
		clusters = append(clusters, cluster{price: p, touches: 1})
	}
	return clusters
}

// rankLevels filters clusters by minimum touches, scores them by touch count
// and the share of traded volume near the level, and returns the strongest
// five sorted by strength descending (price ascending on ties).
func rankLevels(clusters []cluster, candles []types.MarketCandle, minTouches int) []Level {
	var totalVolume float64
	for _, c := range candles {
		totalVolume += c.Volume
	}

	var levels []Level
	for _, cl := range clusters {
		if cl.touches < minTouches {
			continue
		}
		tolerance := cl.price * 0.005
		var levelVolume float64
		for _, c := range candles {
			if math.Abs(c.Close-cl.price) <= tolerance {
				levelVolume += c.Volume
			}
		}
		volumeRatio := 0.0
		if totalVolume > 0 {
			volumeRatio = levelVolume / totalVolume
		}
		strength := math.Min(1.0, float64(cl.touches)*0.3+volumeRatio*0.7)
		levels = append(levels, Level{Price: cl.price, Touches: cl.touches, Strength: strength})
	}

	sort.Slice(levels, func(i, j int) bool {
		if levels[i].Strength != levels[j].Strength {
			return levels[i].Strength > levels[j].Strength
		}
		return levels[i].Price < levels[j].Price
	})
	if len(levels) > maxLevels {
		levels = levels[:maxLevels]
	}
	return levels
}

// ComputeLinearRegression fits close price against candle index using
// ordinary least squares. Fewer than two candles yields a degenerate flat
// line with R2 = 0.
func ComputeLinearRegression(candles []types.MarketCandle) Regression {
	n := len(candles)
	if n < 2 {
		reg := Regression{Direction: "sideways"}
		if n == 1 {
			reg.Intercept = candles[0].Close
		}
		return reg
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, c := range candles {
		x := float64(i)
		sumX += x
		sumY += c.Close
		sumXY += x * c.Close
		sumXX += x * x
	}

	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	slope := (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn

	meanY := sumY / fn
	var ssRes, ssTot float64
	for i, c := range candles {
		pred := slope*float64(i) + intercept
		ssRes += (c.Close - pred) * (c.Close - pred)
		ssTot += (c.Close - meanY) * (c.Close - meanY)
	}
	r2 := 0.0
	if ssTot != 0 {
		r2 = 1 - ssRes/ssTot
	}

	direction := "sideways"
	switch {
	case slope > 0:
		direction = "bullish"
	case slope < 0:
		direction = "bearish"
	}

	return Regression{Slope: slope, Intercept: intercept, R2: r2, Direction: direction}
}

// ComputeVolatility returns the standard deviation of close-to-close returns
// plus a 14-period (window-capped) average true range. Fewer than two
// candles yields zeros.
func ComputeVolatility(candles []types.MarketCandle) Volatility {
	n := len(candles)
	if n == 0 {
		return Volatility{}
	}

	var sum, min, max float64
	min, max = candles[0].Close, candles[0].Close
	for _, c := range candles {
		sum += c.Close
		if c.Close < min {
			min = c.Close
		}
		if c.Close > max {
			max = c.Close
		}
	}
	mean := sum / float64(n)

	vol := Volatility{MeanPrice: mean, PriceRange: max - min}
	if n < 2 {
		return vol
	}

	returns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		prev := candles[i-1].Close
		if prev != 0 {
			returns = append(returns, (candles[i].Close-prev)/prev)
		}
	}
	vol.StdevReturns = stdev(returns)

	prices := make([]float64, n)
	for i, c := range candles {
		prices[i] = c.Close
	}
	if mean != 0 {
		vol.CoefVariation = stdev(prices) / mean
	}

	vol.ATR = averageTrueRange(candles, defaultATRPeriod)
	return vol
}

// averageTrueRange computes the mean of the last period true ranges. The
// true-range series has len(candles)-1 entries; period is capped to that.
func averageTrueRange(candles []types.MarketCandle, period int) float64 {
	if len(candles) < 2 {
		return 0
	}

	trueRanges := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		tr := cur.High - cur.Low
		if hc := math.Abs(cur.High - prev.Close); hc > tr {
			tr = hc
		}
		if lc := math.Abs(cur.Low - prev.Close); lc > tr {
			tr = lc
		}
		trueRanges = append(trueRanges, tr)
	}

	if period > len(trueRanges) {
		period = len(trueRanges)
	}
	var sum float64
	for _, tr := range trueRanges[len(trueRanges)-period:] {
		sum += tr
	}
	return sum / float64(period)
}

func stdev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}
