package strategy

import (
	"fmt"

	"github.com/papertrade/bot-api/internal/types"
)

// Result is the outcome of one strategy evaluation.
type Result struct {
	SignalType string                 `json:"signal_type"` // BUY, SELL, HOLD
	Confidence float64                `json:"confidence"`  // [0,1]
	Reason     string                 `json:"reason"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Params is a validated, strategy-specific parameter set. Each strategy
// defines its own concrete type and parses it from the raw bot config at
// creation time, so the run pipeline never sees untyped maps.
type Params interface {
	Validate() error
}

// Strategy evaluates a candle window into a trading signal. New strategies
// plug in through the registry without touching the orchestrator.
type Strategy interface {
	ID() string
	Name() string
	ParseParams(raw map[string]interface{}) (Params, error)
	RequiredCandles(params Params) int
	Evaluate(candles []types.MarketCandle, params Params) Result
}

// Registry holds the available strategies keyed by ID.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry returns a registry with all shipped strategies registered.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(NewBlueSky())
	return r
}

func (r *Registry) Register(s Strategy) {
	r.strategies[s.ID()] = s
}

func (r *Registry) Get(id string) (Strategy, error) {
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("unknown strategy: %s", id)
	}
	return s, nil
}

// List returns the registered strategy IDs and names.
func (r *Registry) List() map[string]string {
	out := make(map[string]string, len(r.strategies))
	for id, s := range r.strategies {
		out[id] = s.Name()
	}
	return out
}

func holdResult(reason string, confidence float64) Result {
	return Result{SignalType: types.SignalHold, Confidence: clamp01(confidence), Reason: reason}
}

func buyResult(reason string, confidence float64, metadata map[string]interface{}) Result {
	return Result{
		SignalType: types.SignalBuy,
		Confidence: clamp01(confidence),
		Reason:     reason,
		Metadata:   metadata,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
