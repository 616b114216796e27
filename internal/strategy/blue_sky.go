package strategy

import (
	"errors"
	"fmt"

	"github.com/papertrade/bot-api/internal/types"
)

const (
	// ReasonInsufficientHistory is the fixed hold reason when the window is
	// shorter than lookback+1 candles.
	ReasonInsufficientHistory = "insufficient history"

	defaultLookback      = 20
	defaultMinConfidence = 0.6

	// A breakout of this magnitude or more maps to full confidence.
	confidenceSaturationPct = 0.05
)

// BlueSkyParams configures the Blue Sky breakout strategy.
type BlueSkyParams struct {
	Lookback      int     `json:"lookback"`
	MinConfidence float64 `json:"min_confidence"`
}

func (p BlueSkyParams) Validate() error {
	if p.Lookback < 5 || p.Lookback > 100 {
		return fmt.Errorf("lookback must be in [5,100], got %d", p.Lookback)
	}
	if p.MinConfidence < 0.1 || p.MinConfidence > 1.0 {
		return fmt.Errorf("min_confidence must be in [0.1,1.0], got %g", p.MinConfidence)
	}
	return nil
}

// BlueSky buys when the current close breaks above the highest high of the
// trailing lookback window. It never emits SELL; exits are handled by the
// execution engine's exit rules.
type BlueSky struct{}

func NewBlueSky() *BlueSky { return &BlueSky{} }

func (s *BlueSky) ID() string   { return "blue_sky" }
func (s *BlueSky) Name() string { return "Blue Sky" }

// ParseParams builds typed parameters from the raw bot config, applying
// defaults for absent keys and rejecting out-of-range values.
func (s *BlueSky) ParseParams(raw map[string]interface{}) (Params, error) {
	params := BlueSkyParams{
		Lookback:      defaultLookback,
		MinConfidence: defaultMinConfidence,
	}

	if v, ok := raw["lookback"]; ok {
		f, ok := toFloat(v)
		if !ok || f != float64(int(f)) {
			return nil, errors.New("lookback must be an integer")
		}
		params.Lookback = int(f)
	}
	if v, ok := raw["min_confidence"]; ok {
		f, ok := toFloat(v)
		if !ok {
			return nil, errors.New("min_confidence must be a number")
		}
		params.MinConfidence = f
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

func (s *BlueSky) RequiredCandles(params Params) int {
	p, ok := params.(BlueSkyParams)
	if !ok {
		return defaultLookback + 1
	}
	return p.Lookback + 1
}

// Evaluate applies the breakout rule: with H the max high of the lookback
// candles preceding the current one, a close above H is a breakout.
// Confidence is the breakout percentage scaled linearly to saturate at a 5%
// breakout, clamped to [0,1]; breakouts below min_confidence degrade to HOLD
// with the computed confidence still reported.
func (s *BlueSky) Evaluate(candles []types.MarketCandle, params Params) Result {
	p, ok := params.(BlueSkyParams)
	if !ok {
		return holdResult("invalid parameters", 0)
	}

	if len(candles) < p.Lookback+1 {
		return holdResult(ReasonInsufficientHistory, 0)
	}

	current := candles[len(candles)-1]
	window := candles[len(candles)-1-p.Lookback : len(candles)-1]

	maxPrevHigh := window[0].High
	for _, c := range window[1:] {
		if c.High > maxPrevHigh {
			maxPrevHigh = c.High
		}
	}

	// Impossible for valid price data, but must not blow up the run.
	if maxPrevHigh <= 0 {
		return holdResult("non-positive reference high", 0)
	}

	closeNow := current.Close
	if closeNow <= maxPrevHigh {
		return holdResult(fmt.Sprintf("no breakout: close %.2f below max high %.2f", closeNow, maxPrevHigh), 0)
	}

	breakoutPct := (closeNow - maxPrevHigh) / maxPrevHigh
	confidence := clamp01(breakoutPct / confidenceSaturationPct)

	if confidence < p.MinConfidence {
		return holdResult(
			fmt.Sprintf("breakout confidence %.3f below threshold %.2f", confidence, p.MinConfidence),
			confidence,
		)
	}

	return buyResult(
		fmt.Sprintf("breakout: close %.2f above max high %.2f (%.2f%%)", closeNow, maxPrevHigh, breakoutPct*100),
		confidence,
		map[string]interface{}{
			"lookback":      p.Lookback,
			"max_prev_high": maxPrevHigh,
			"close_now":     closeNow,
			"breakout_pct":  breakoutPct,
		},
	)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
