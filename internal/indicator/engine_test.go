package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/bot-api/internal/types"
)

func candle(i int, open, high, low, close, volume float64) types.MarketCandle {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return types.MarketCandle{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Timestamp: base.Add(time.Duration(i) * time.Hour),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}

func TestComputeSupportResistance(t *testing.T) {
	// Lows repeatedly test 100, highs repeatedly test 110
	candles := []types.MarketCandle{
		candle(0, 101, 110.0, 100.0, 105, 1000),
		candle(1, 105, 110.2, 100.1, 106, 1200),
		candle(2, 106, 109.9, 100.2, 104, 900),
		candle(3, 104, 110.1, 99.9, 107, 1100),
	}

	sr := ComputeSupportResistance(candles, 2)
	require.NotEmpty(t, sr.Supports)
	require.NotEmpty(t, sr.Resistances)

	// All four lows cluster within 0.5% of the mean close
	assert.Equal(t, 4, sr.Supports[0].Touches)
	assert.InDelta(t, 100.05, sr.Supports[0].Price, 0.1)
	assert.Equal(t, 4, sr.Resistances[0].Touches)
	assert.InDelta(t, 110.05, sr.Resistances[0].Price, 0.1)

	// Strength saturates at 1.0
	assert.LessOrEqual(t, sr.Supports[0].Strength, 1.0)
	assert.Greater(t, sr.Supports[0].Strength, 0.0)
}

func TestComputeSupportResistance_Degenerate(t *testing.T) {
	sr := ComputeSupportResistance(nil, 2)
	assert.Empty(t, sr.Supports)
	assert.Empty(t, sr.Resistances)

	sr = ComputeSupportResistance([]types.MarketCandle{candle(0, 1, 2, 1, 1.5, 10)}, 2)
	assert.Empty(t, sr.Supports)
	assert.Empty(t, sr.Resistances)
}

func TestComputeSupportResistance_MinTouchesFilter(t *testing.T) {
	candles := []types.MarketCandle{
		candle(0, 101, 110, 100, 105, 1000),
		candle(1, 105, 150, 140, 145, 1000),
		candle(2, 106, 200, 190, 195, 1000),
	}

	// Every level has a single touch, so a threshold of 2 filters all
	sr := ComputeSupportResistance(candles, 2)
	assert.Empty(t, sr.Supports)
	assert.Empty(t, sr.Resistances)
}

func TestComputeSupportResistance_Deterministic(t *testing.T) {
	candles := make([]types.MarketCandle, 0, 30)
	for i := 0; i < 30; i++ {
		price := 100 + float64(i%5)
		candles = append(candles, candle(i, price, price+2, price-2, price+1, 1000))
	}

	first := ComputeSupportResistance(candles, 2)
	second := ComputeSupportResistance(candles, 2)
	assert.Equal(t, first, second)
}

func TestComputeLinearRegression_PerfectLine(t *testing.T) {
	// close = 100 + 2*i is a perfect fit
	candles := make([]types.MarketCandle, 0, 10)
	for i := 0; i < 10; i++ {
		c := 100 + 2*float64(i)
		candles = append(candles, candle(i, c, c+1, c-1, c, 1000))
	}

	reg := ComputeLinearRegression(candles)
	assert.InDelta(t, 2.0, reg.Slope, 1e-9)
	assert.InDelta(t, 100.0, reg.Intercept, 1e-9)
	assert.InDelta(t, 1.0, reg.R2, 1e-9)
	assert.Equal(t, "bullish", reg.Direction)
}

func TestComputeLinearRegression_Bearish(t *testing.T) {
	candles := make([]types.MarketCandle, 0, 10)
	for i := 0; i < 10; i++ {
		c := 100 - float64(i)
		candles = append(candles, candle(i, c, c+1, c-1, c, 1000))
	}

	reg := ComputeLinearRegression(candles)
	assert.InDelta(t, -1.0, reg.Slope, 1e-9)
	assert.Equal(t, "bearish", reg.Direction)
}

func TestComputeLinearRegression_Degenerate(t *testing.T) {
	reg := ComputeLinearRegression(nil)
	assert.Equal(t, 0.0, reg.Slope)
	assert.Equal(t, 0.0, reg.R2)
	assert.Equal(t, "sideways", reg.Direction)

	reg = ComputeLinearRegression([]types.MarketCandle{candle(0, 1, 2, 1, 1.5, 10)})
	assert.Equal(t, 0.0, reg.Slope)
	assert.Equal(t, 1.5, reg.Intercept)
	assert.Equal(t, "sideways", reg.Direction)
}

func TestComputeLinearRegression_FlatSeries(t *testing.T) {
	candles := make([]types.MarketCandle, 0, 10)
	for i := 0; i < 10; i++ {
		candles = append(candles, candle(i, 100, 101, 99, 100, 1000))
	}

	// Constant closes give zero slope and zero total variance
	reg := ComputeLinearRegression(candles)
	assert.Equal(t, 0.0, reg.Slope)
	assert.Equal(t, 0.0, reg.R2)
	assert.Equal(t, "sideways", reg.Direction)
}

func TestComputeVolatility(t *testing.T) {
	candles := []types.MarketCandle{
		candle(0, 100, 102, 98, 100, 1000),
		candle(1, 100, 104, 100, 102, 1000),
		candle(2, 102, 103, 99, 101, 1000),
	}

	vol := ComputeVolatility(candles)
	assert.InDelta(t, 101.0, vol.MeanPrice, 1e-9)
	assert.InDelta(t, 2.0, vol.PriceRange, 1e-9)
	assert.Greater(t, vol.StdevReturns, 0.0)
	assert.Greater(t, vol.ATR, 0.0)
	assert.Greater(t, vol.CoefVariation, 0.0)
}

func TestComputeVolatility_Degenerate(t *testing.T) {
	vol := ComputeVolatility(nil)
	assert.Equal(t, Volatility{}, vol)

	vol = ComputeVolatility([]types.MarketCandle{candle(0, 100, 102, 98, 100, 1000)})
	assert.Equal(t, 100.0, vol.MeanPrice)
	assert.Equal(t, 0.0, vol.StdevReturns)
	assert.Equal(t, 0.0, vol.ATR)
}

func TestAverageTrueRange_PeriodCap(t *testing.T) {
	// 3 candles give 2 true ranges; the 14 period caps to 2
	candles := []types.MarketCandle{
		candle(0, 100, 102, 98, 100, 1000),
		candle(1, 100, 106, 100, 104, 1000),
		candle(2, 104, 105, 101, 103, 1000),
	}

	// TR1 = max(106-100, |106-100|, |100-100|) = 6
	// TR2 = max(105-101, |105-104|, |101-104|) = 4
	atr := averageTrueRange(candles, 14)
	assert.InDelta(t, 5.0, atr, 1e-9)
}
