package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/bot-api/internal/types"
)

// flatCandles builds n candles with the given high, closing slightly below it.
func flatCandles(n int, high float64) []types.MarketCandle {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]types.MarketCandle, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, types.MarketCandle{
			Symbol:    "BTCUSDT",
			Timeframe: "1h",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      high - 2,
			High:      high,
			Low:       high - 4,
			Close:     high - 1,
			Volume:    1000,
		})
	}
	return candles
}

func TestBlueSky_ParseParamsDefaults(t *testing.T) {
	s := NewBlueSky()

	params, err := s.ParseParams(map[string]interface{}{})
	require.NoError(t, err)

	p := params.(BlueSkyParams)
	assert.Equal(t, 20, p.Lookback)
	assert.Equal(t, 0.6, p.MinConfidence)
	assert.Equal(t, 21, s.RequiredCandles(params))
}

func TestBlueSky_ParseParamsValidation(t *testing.T) {
	s := NewBlueSky()

	// JSON numbers arrive as float64
	params, err := s.ParseParams(map[string]interface{}{"lookback": float64(10), "min_confidence": 0.3})
	require.NoError(t, err)
	p := params.(BlueSkyParams)
	assert.Equal(t, 10, p.Lookback)
	assert.Equal(t, 0.3, p.MinConfidence)

	_, err = s.ParseParams(map[string]interface{}{"lookback": 4})
	assert.Error(t, err)

	_, err = s.ParseParams(map[string]interface{}{"lookback": 101})
	assert.Error(t, err)

	_, err = s.ParseParams(map[string]interface{}{"min_confidence": 0.05})
	assert.Error(t, err)

	_, err = s.ParseParams(map[string]interface{}{"lookback": 10.5})
	assert.Error(t, err)

	_, err = s.ParseParams(map[string]interface{}{"min_confidence": "high"})
	assert.Error(t, err)
}

func TestBlueSky_InsufficientHistory(t *testing.T) {
	s := NewBlueSky()
	params, err := s.ParseParams(map[string]interface{}{"lookback": 20})
	require.NoError(t, err)

	// 20 candles, need 21
	result := s.Evaluate(flatCandles(20, 100), params)
	assert.Equal(t, types.SignalHold, result.SignalType)
	assert.Equal(t, ReasonInsufficientHistory, result.Reason)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestBlueSky_BreakoutBuy(t *testing.T) {
	s := NewBlueSky()
	params, err := s.ParseParams(map[string]interface{}{"lookback": 20, "min_confidence": 0.6})
	require.NoError(t, err)

	// 24 prior candles all topping at 100, current closes at 105.
	// Breakout is 5%, which saturates confidence at 1.0.
	candles := flatCandles(25, 100)
	candles[24].Close = 105
	candles[24].High = 105.5

	result := s.Evaluate(candles, params)
	assert.Equal(t, types.SignalBuy, result.SignalType)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
	assert.Equal(t, 100.0, result.Metadata["max_prev_high"])
}

func TestBlueSky_BreakoutConfidenceScaling(t *testing.T) {
	s := NewBlueSky()
	params, err := s.ParseParams(map[string]interface{}{"lookback": 20, "min_confidence": 0.1})
	require.NoError(t, err)

	// 1% breakout maps to 0.01/0.05 = 0.2 confidence
	candles := flatCandles(25, 100)
	candles[24].Close = 101
	candles[24].High = 101.2

	result := s.Evaluate(candles, params)
	assert.Equal(t, types.SignalBuy, result.SignalType)
	assert.InDelta(t, 0.2, result.Confidence, 1e-9)
}

func TestBlueSky_BelowThresholdDegradesToHold(t *testing.T) {
	s := NewBlueSky()
	params, err := s.ParseParams(map[string]interface{}{"lookback": 20, "min_confidence": 0.6})
	require.NoError(t, err)

	// 1% breakout gives 0.2 confidence, below the 0.6 threshold.
	// The computed confidence is still reported on the HOLD.
	candles := flatCandles(25, 100)
	candles[24].Close = 101
	candles[24].High = 101.2

	result := s.Evaluate(candles, params)
	assert.Equal(t, types.SignalHold, result.SignalType)
	assert.InDelta(t, 0.2, result.Confidence, 1e-9)
}

func TestBlueSky_NoBreakout(t *testing.T) {
	s := NewBlueSky()
	params, err := s.ParseParams(map[string]interface{}{"lookback": 20})
	require.NoError(t, err)

	// Close exactly at the reference high is not a breakout
	candles := flatCandles(25, 100)
	candles[24].Close = 100

	result := s.Evaluate(candles, params)
	assert.Equal(t, types.SignalHold, result.SignalType)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestBlueSky_CurrentCandleExcludedFromWindow(t *testing.T) {
	s := NewBlueSky()
	params, err := s.ParseParams(map[string]interface{}{"lookback": 5, "min_confidence": 0.1})
	require.NoError(t, err)

	// The current candle's own high must not raise the reference level
	candles := flatCandles(6, 100)
	candles[5].High = 120
	candles[5].Close = 102

	result := s.Evaluate(candles, params)
	assert.Equal(t, types.SignalBuy, result.SignalType)
	assert.Equal(t, 100.0, result.Metadata["max_prev_high"])
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	s, err := r.Get("blue_sky")
	require.NoError(t, err)
	assert.Equal(t, "Blue Sky", s.Name())

	_, err = r.Get("momentum")
	assert.Error(t, err)

	assert.Contains(t, r.List(), "blue_sky")
}
