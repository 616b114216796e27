package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/papertrade/bot-api/internal/audit"
	"github.com/papertrade/bot-api/internal/execution"
	"github.com/papertrade/bot-api/internal/indicator"
	"github.com/papertrade/bot-api/internal/market"
	"github.com/papertrade/bot-api/internal/strategy"
	"github.com/papertrade/bot-api/internal/types"
)

// Pipeline stages, used for run errors and audit events.
const (
	stageMarketData = "market_data_refresh"
	stageIndicators = "indicator_computation"
	stageStrategy   = "strategy_evaluation"
	stageExecution  = "signal_execution"
	stagePersist    = "persist"
	stageCompleted  = "completed"
)

const (
	fetchLimit  = 200
	windowLimit = 50

	defaultFetchTimeout = 30 * time.Second
)

// Orchestrator runs the per-bot pipeline: fetch candles, compute
// indicators, evaluate the strategy, execute the signal, persist. A per-bot
// lock guarantees at most one run in flight per bot; losing triggers are
// dropped with ErrRunInFlight, never queued.
type Orchestrator struct {
	db         *Database
	gormDB     *gorm.DB
	market     market.Provider
	indicators *indicator.Service
	strategies *strategy.Registry
	execution  *execution.Service
	sink       audit.Sink

	fetchTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(
	gormDB *gorm.DB,
	marketSvc market.Provider,
	indicators *indicator.Service,
	strategies *strategy.Registry,
	executionSvc *execution.Service,
	sink audit.Sink,
) *Orchestrator {
	return &Orchestrator{
		db:           NewDatabase(gormDB),
		gormDB:       gormDB,
		market:       marketSvc,
		indicators:   indicators,
		strategies:   strategies,
		execution:    executionSvc,
		sink:         sink,
		fetchTimeout: defaultFetchTimeout,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) botLock(botID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[botID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[botID] = l
	}
	return l
}

// RunScheduled executes one scheduled tick for a bot. Bots that are no
// longer RUNNING are skipped; fatal failures transition the bot to ERROR.
func (o *Orchestrator) RunScheduled(ctx context.Context, botID string) {
	bot, err := o.db.GetBot(botID)
	if err != nil || bot == nil {
		log.Warn().Str("bot_id", botID).Err(err).Msg("scheduled run for unknown bot")
		return
	}
	if bot.State != types.BotStateRunning {
		log.Debug().Str("bot_id", botID).Str("state", bot.State).Msg("bot not running, skipping tick")
		return
	}

	if _, err := o.RunOnce(ctx, botID); err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) && runErr.Fatal() {
			if moved, stateErr := o.db.UpdateStateIf(botID, types.BotStateRunning, types.BotStateError); stateErr != nil {
				log.Error().Err(stateErr).Str("bot_id", botID).Msg("failed to mark bot errored")
			} else if moved {
				log.Error().
					Str("bot_id", botID).
					Str("run_id", runErr.RunID).
					Str("stage", runErr.Stage).
					Msg("bot halted after fatal run failure")
			}
		}
	}
}

// RunOnce executes a single pipeline run for the bot, honoring the same
// in-flight exclusivity and idempotence rules as scheduled runs. It is the
// manual/synchronous entry point; run failures are returned, and state
// transitions on failure are the caller's concern.
func (o *Orchestrator) RunOnce(ctx context.Context, botID string) (*types.RunResult, error) {
	lock := o.botLock(botID)
	if !lock.TryLock() {
		o.sink.Record(audit.Event{
			BotID: botID, RunID: "", Stage: stageCompleted,
			Outcome: audit.OutcomeSkippedDuplicate, Detail: "run already in flight",
		})
		return nil, fmt.Errorf("%w: %s", ErrRunInFlight, botID)
	}
	defer lock.Unlock()

	bot, err := o.db.GetBot(botID)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, fmt.Errorf("%w: %s", ErrBotNotFound, botID)
	}

	runID := uuid.New().String()
	started := time.Now().UTC()

	logger := log.With().Str("bot_id", botID).Str("run_id", runID).Logger()
	logger.Info().Str("symbol", bot.Symbol).Str("strategy", bot.StrategyID).Msg("run started")

	result, runErr := o.runPipeline(ctx, bot, runID)
	duration := time.Since(started).Seconds()

	if runErr != nil {
		o.sink.Record(audit.Event{
			BotID: botID, RunID: runID, Stage: stageCompleted,
			Outcome: audit.OutcomeError, Detail: runErr.Error(),
		})
		logger.Error().Err(runErr).Float64("duration_seconds", duration).Msg("run failed")
		return nil, runErr
	}

	result.RunID = runID
	result.BotID = botID
	result.Duration = duration

	o.sink.Record(audit.Event{
		BotID: botID, RunID: runID, Stage: stageCompleted,
		Outcome: result.Outcome,
		Detail:  fmt.Sprintf("signal=%s action=%s", result.SignalType, result.Action),
	})
	logger.Info().
		Str("outcome", result.Outcome).
		Str("signal_type", result.SignalType).
		Str("action", result.Action).
		Float64("duration_seconds", duration).
		Msg("run completed")

	return result, nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, bot *types.Bot, runID string) (*types.RunResult, error) {
	stage := func(name string) {
		o.sink.Record(audit.Event{BotID: bot.BotID, RunID: runID, Stage: name, Outcome: "started"})
	}

	// Stage 1: market data. Bounded by the fetch timeout; failures here are
	// retryable on the next tick.
	stage(stageMarketData)
	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	if _, err := o.market.Refresh(fetchCtx, bot.Symbol, bot.Timeframe, fetchLimit); err != nil {
		class := ClassTransient
		if errors.Is(err, market.ErrSymbolNotFound) {
			class = ClassPersistence // unsupported symbol will not fix itself
		}
		return nil, newRunError(bot.BotID, runID, stageMarketData, class, err)
	}

	// Stage 2: strategy setup and idempotence check. Identical inputs must
	// not create duplicate signals or orders.
	stage(stageStrategy)
	strat, err := o.strategies.Get(bot.StrategyID)
	if err != nil {
		return nil, newRunError(bot.BotID, runID, stageStrategy, ClassPersistence, err)
	}
	rawParams, err := bot.GetParams()
	if err != nil {
		return nil, newRunError(bot.BotID, runID, stageStrategy, ClassPersistence, err)
	}
	params, err := strat.ParseParams(rawParams)
	if err != nil {
		return nil, newRunError(bot.BotID, runID, stageStrategy, ClassPersistence, err)
	}

	// The window must cover whatever history the parsed params demand,
	// never less than the baseline.
	window := windowLimit
	if req := strat.RequiredCandles(params); req > window {
		window = req
	}

	candles, err := o.market.GetCandles(bot.Symbol, bot.Timeframe, window)
	if err != nil {
		return nil, newRunError(bot.BotID, runID, stageMarketData, ClassPersistence, err)
	}
	if len(candles) == 0 {
		return nil, newRunError(bot.BotID, runID, stageMarketData, ClassTransient, errors.New("no candles available"))
	}

	inputsHash, err := audit.MakeInputsHash(map[string]interface{}{
		"bot_id":   bot.BotID,
		"strategy": bot.StrategyID,
		"params":   params,
		"candles":  candleFingerprints(candles),
	})
	if err != nil {
		return nil, newRunError(bot.BotID, runID, stageStrategy, ClassPersistence, err)
	}

	duplicate, err := o.db.HasSignalWithHash(bot.BotID, inputsHash)
	if err != nil {
		return nil, newRunError(bot.BotID, runID, stageStrategy, ClassPersistence, err)
	}
	if duplicate {
		return &types.RunResult{Outcome: audit.OutcomeSkippedDuplicate}, nil
	}

	evalResult := strat.Evaluate(candles, params)

	// Stages 3-5 are all-or-nothing: indicators, signal, order and the
	// last-run timestamp commit in one transaction or not at all.
	stage(stageIndicators)
	now := time.Now().UTC()
	currentPrice := candles[len(candles)-1].Close

	var decision execution.Decision

	txErr := o.gormDB.Transaction(func(tx *gorm.DB) error {
		if _, err := o.indicators.ComputeAndStore(tx, bot.BotID, candles, now); err != nil {
			return newRunError(bot.BotID, runID, stageIndicators, ClassPersistence, err)
		}

		stage(stagePersist)
		signal := &types.Signal{
			SignalID:   uuid.New().String(),
			BotID:      bot.BotID,
			Timestamp:  now,
			SignalType: evalResult.SignalType,
			Confidence: evalResult.Confidence,
			Reason:     evalResult.Reason,
			InputsHash: inputsHash,
		}
		if err := o.db.CreateSignalTx(tx, signal); err != nil {
			return newRunError(bot.BotID, runID, stagePersist, ClassPersistence, err)
		}

		stage(stageExecution)
		d, err := o.execution.ApplySignalTx(tx, bot, signal.SignalID, evalResult.SignalType, currentPrice)
		if err != nil {
			class := ClassPersistence
			if errors.Is(err, execution.ErrInvariantViolation) {
				class = ClassInvariant
			}
			return newRunError(bot.BotID, runID, stageExecution, class, err)
		}
		decision = d
		return nil
	})
	if txErr != nil {
		var runErr *RunError
		if errors.As(txErr, &runErr) {
			return nil, runErr
		}
		return nil, newRunError(bot.BotID, runID, stagePersist, ClassPersistence, txErr)
	}

	// last_run_at is best-effort. Any surviving bot records the run,
	// including manual runs on stopped bots; a bot deleted mid-run is left
	// alone.
	if err := o.db.TouchLastRunIf(bot.BotID, []string{types.BotStateRunning, types.BotStatePaused, types.BotStateStopped, types.BotStateError}, now); err != nil {
		log.Warn().Err(err).Str("bot_id", bot.BotID).Msg("failed to update last_run_at")
	}

	result := &types.RunResult{
		Outcome:    audit.OutcomeSuccess,
		SignalType: evalResult.SignalType,
		Confidence: evalResult.Confidence,
		Action:     decision.Action,
		PnL:        decision.PnL,
	}
	if decision.Order != nil {
		result.OrderID = decision.Order.OrderID
	}
	return result, nil
}

// candleFingerprints reduces the window to the fields that define it, so
// the inputs hash is stable across runs over identical data.
func candleFingerprints(candles []types.MarketCandle) []string {
	out := make([]string, len(candles))
	for i, c := range candles {
		out[i] = fmt.Sprintf("%d:%g:%g:%g:%g:%g", c.Timestamp.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	return out
}
