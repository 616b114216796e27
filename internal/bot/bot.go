package bot

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/papertrade/bot-api/internal/market"
	"github.com/papertrade/bot-api/internal/strategy"
	"github.com/papertrade/bot-api/internal/types"
)

// Schedule is the scheduler surface the bot lifecycle needs. The scheduler
// itself never reaches back into this package.
type Schedule interface {
	Register(botID string, interval time.Duration)
	Deregister(botID string)
	Pause(botID string)
	Resume(botID string)
	Stats(botID string) (nextFire *time.Time, missed int64, registered bool)
}

var validAssetTypes = map[string]bool{"CRYPTO": true, "FOREX": true, "STOCKS": true}

// CreateRequest is the payload for creating or updating a bot.
type CreateRequest struct {
	Name            string                 `json:"name" binding:"required"`
	AssetType       string                 `json:"asset_type" binding:"required"`
	Symbol          string                 `json:"symbol" binding:"required"`
	Timeframe       string                 `json:"timeframe" binding:"required"`
	StrategyID      string                 `json:"strategy_id" binding:"required"`
	IntervalSeconds int                    `json:"interval_seconds" binding:"required"`
	Params          map[string]interface{} `json:"params"`
}

// Service handles bot configuration and lifecycle. Configuration mutations
// are only permitted while the bot is stopped; the orchestrator owns state
// and last_run_at during runs.
type Service struct {
	db          *Database
	strategies  *strategy.Registry
	schedule    Schedule
	minInterval int
	maxRunning  int
}

// NewService builds the bot lifecycle service. maxConcurrentBots caps the
// number of bots in RUNNING state at once; zero or negative means no cap.
func NewService(gormDB *gorm.DB, strategies *strategy.Registry, schedule Schedule, minIntervalSeconds, maxConcurrentBots int) *Service {
	if minIntervalSeconds < 30 {
		minIntervalSeconds = 30
	}
	return &Service{
		db:          NewDatabase(gormDB),
		strategies:  strategies,
		schedule:    schedule,
		minInterval: minIntervalSeconds,
		maxRunning:  maxConcurrentBots,
	}
}

func (s *Service) validate(req *CreateRequest) error {
	if !validAssetTypes[req.AssetType] {
		return fmt.Errorf("unsupported asset type %q", req.AssetType)
	}
	if !market.ValidTimeframe(req.Timeframe) {
		return fmt.Errorf("unsupported timeframe %q", req.Timeframe)
	}
	if req.IntervalSeconds < s.minInterval {
		return fmt.Errorf("interval must be at least %d seconds", s.minInterval)
	}

	strat, err := s.strategies.Get(req.StrategyID)
	if err != nil {
		return err
	}
	if _, err := strat.ParseParams(req.Params); err != nil {
		return fmt.Errorf("invalid strategy parameters: %w", err)
	}
	return nil
}

// CreateBot validates the configuration and stores a new STOPPED bot.
func (s *Service) CreateBot(ownerID string, req *CreateRequest) (*types.Bot, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	bot := &types.Bot{
		BotID:           uuid.New().String(),
		OwnerID:         ownerID,
		Name:            req.Name,
		AssetType:       req.AssetType,
		Symbol:          req.Symbol,
		Timeframe:       req.Timeframe,
		StrategyID:      req.StrategyID,
		State:           types.BotStateStopped,
		IntervalSeconds: req.IntervalSeconds,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if req.Params != nil {
		if err := bot.SetParams(req.Params); err != nil {
			return nil, err
		}
	}

	if err := s.db.CreateBot(bot); err != nil {
		return nil, err
	}

	log.Info().
		Str("bot_id", bot.BotID).
		Str("owner_id", ownerID).
		Str("symbol", bot.Symbol).
		Str("strategy", bot.StrategyID).
		Msg("bot created")

	return bot, nil
}

// GetOwnedBot resolves a bot scoped to its owner. A bot that does not exist
// and a bot owned by someone else are indistinguishable to the caller.
func (s *Service) GetOwnedBot(botID, ownerID string) (*types.Bot, error) {
	bot, err := s.db.GetBotByOwner(botID, ownerID)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, ErrBotNotFound
	}
	return bot, nil
}

func (s *Service) ListBots(ownerID string) ([]types.Bot, error) {
	return s.db.ListBots(ownerID)
}

// UpdateBot replaces a stopped bot's configuration.
func (s *Service) UpdateBot(botID, ownerID string, req *CreateRequest) (*types.Bot, error) {
	bot, err := s.GetOwnedBot(botID, ownerID)
	if err != nil {
		return nil, err
	}
	if bot.State != types.BotStateStopped {
		return nil, fmt.Errorf("%w: state is %s", ErrBotRunning, bot.State)
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}

	bot.Name = req.Name
	bot.AssetType = req.AssetType
	bot.Symbol = req.Symbol
	bot.Timeframe = req.Timeframe
	bot.StrategyID = req.StrategyID
	bot.IntervalSeconds = req.IntervalSeconds
	bot.UpdatedAt = time.Now().UTC()
	if err := bot.SetParams(req.Params); err != nil {
		return nil, err
	}

	if err := s.db.SaveBot(bot); err != nil {
		return nil, err
	}
	return bot, nil
}

// DeleteBot removes a bot, releasing its scheduler registration first.
func (s *Service) DeleteBot(botID, ownerID string) error {
	bot, err := s.GetOwnedBot(botID, ownerID)
	if err != nil {
		return err
	}

	s.schedule.Deregister(botID)

	if err := s.db.DeleteBot(bot); err != nil {
		return err
	}
	log.Info().Str("bot_id", botID).Msg("bot deleted")
	return nil
}

// StartBot transitions STOPPED or ERROR to RUNNING and registers the bot's
// schedule. Starting an already-running bot is a no-op.
func (s *Service) StartBot(botID, ownerID string) (*types.Bot, error) {
	return s.transition(botID, ownerID, "start")
}

// StopBot transitions RUNNING, PAUSED or ERROR to STOPPED and releases the
// schedule registration.
func (s *Service) StopBot(botID, ownerID string) (*types.Bot, error) {
	return s.transition(botID, ownerID, "stop")
}

// PauseBot suspends triggering while keeping the schedule registration.
func (s *Service) PauseBot(botID, ownerID string) (*types.Bot, error) {
	return s.transition(botID, ownerID, "pause")
}

// ResumeBot re-enables triggering for a paused bot.
func (s *Service) ResumeBot(botID, ownerID string) (*types.Bot, error) {
	return s.transition(botID, ownerID, "resume")
}

func (s *Service) transition(botID, ownerID, command string) (*types.Bot, error) {
	bot, err := s.GetOwnedBot(botID, ownerID)
	if err != nil {
		return nil, err
	}

	next, noop, err := nextState(bot.State, command)
	if err != nil {
		return nil, err
	}
	if noop {
		return bot, nil
	}

	if next == types.BotStateRunning && s.maxRunning > 0 {
		running, err := s.db.CountBotsInState(types.BotStateRunning)
		if err != nil {
			return nil, err
		}
		if running >= int64(s.maxRunning) {
			return nil, fmt.Errorf("%w: %d bots running", ErrTooManyRunning, running)
		}
	}

	bot.State = next
	bot.UpdatedAt = time.Now().UTC()
	if err := s.db.SaveBot(bot); err != nil {
		return nil, err
	}

	interval := time.Duration(bot.IntervalSeconds) * time.Second
	switch command {
	case "start":
		s.schedule.Register(botID, interval)
	case "stop":
		s.schedule.Deregister(botID)
	case "pause":
		s.schedule.Pause(botID)
	case "resume":
		s.schedule.Resume(botID)
	}

	log.Info().
		Str("bot_id", botID).
		Str("command", command).
		Str("state", bot.State).
		Msg("bot state transition")

	return bot, nil
}

// nextState implements the bot state machine. Idempotent commands (start on
// RUNNING, stop on STOPPED, pause on PAUSED, resume on RUNNING) are no-ops;
// anything else outside the transition table is an invalid transition.
func nextState(current, command string) (next string, noop bool, err error) {
	switch command {
	case "start":
		switch current {
		case types.BotStateStopped, types.BotStateError:
			return types.BotStateRunning, false, nil
		case types.BotStateRunning:
			return current, true, nil
		}
	case "stop":
		switch current {
		case types.BotStateRunning, types.BotStatePaused, types.BotStateError:
			return types.BotStateStopped, false, nil
		case types.BotStateStopped:
			return current, true, nil
		}
	case "pause":
		switch current {
		case types.BotStateRunning:
			return types.BotStatePaused, false, nil
		case types.BotStatePaused:
			return current, true, nil
		}
	case "resume":
		switch current {
		case types.BotStatePaused:
			return types.BotStateRunning, false, nil
		case types.BotStateRunning:
			return current, true, nil
		}
	}
	return "", false, fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, command, current)
}

// Status reports the bot's state together with its scheduling info.
func (s *Service) Status(botID, ownerID string) (*types.BotStatusResponse, error) {
	bot, err := s.GetOwnedBot(botID, ownerID)
	if err != nil {
		return nil, err
	}

	nextFire, missed, _ := s.schedule.Stats(botID)
	return &types.BotStatusResponse{
		BotID:           bot.BotID,
		State:           bot.State,
		IntervalSeconds: bot.IntervalSeconds,
		LastRunAt:       bot.LastRunAt,
		NextFireAt:      nextFire,
		MissedRuns:      missed,
	}, nil
}

// RestoreSchedule re-registers bots that were active when the process last
// stopped. Paused bots are registered and immediately paused so a resume
// picks them up without a fresh start command.
func (s *Service) RestoreSchedule() error {
	bots, err := s.db.ListBotsInStates([]string{types.BotStateRunning, types.BotStatePaused})
	if err != nil {
		return err
	}

	for _, b := range bots {
		s.schedule.Register(b.BotID, time.Duration(b.IntervalSeconds)*time.Second)
		if b.State == types.BotStatePaused {
			s.schedule.Pause(b.BotID)
		}
	}

	if len(bots) > 0 {
		log.Info().Int("bots", len(bots)).Msg("restored bot schedule")
	}
	return nil
}

// ListSignals returns recent signals for an owned bot.
func (s *Service) ListSignals(botID string, limit int) ([]types.Signal, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.db.ListSignals(botID, limit)
}

const highConfidenceThreshold = 0.8

// SignalStats aggregates a bot's signals over the trailing window of days,
// defaulting to 30.
func (s *Service) SignalStats(botID string, days int) (*types.SignalStats, error) {
	if days <= 0 || days > 365 {
		days = 30
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	signals, err := s.db.ListSignalsSince(botID, since)
	if err != nil {
		return nil, err
	}

	stats := &types.SignalStats{
		BotID:        botID,
		PeriodDays:   days,
		TotalSignals: int64(len(signals)),
	}

	var confidenceSum float64
	for i := range signals {
		sig := &signals[i]
		switch sig.SignalType {
		case types.SignalBuy:
			stats.BuySignals++
		case types.SignalSell:
			stats.SellSignals++
		case types.SignalHold:
			stats.HoldSignals++
		}
		confidenceSum += sig.Confidence
		if sig.Confidence >= highConfidenceThreshold {
			stats.HighConfidenceSignals++
		}
	}

	if len(signals) > 0 {
		avg := confidenceSum / float64(len(signals))
		stats.AvgConfidence = math.Round(avg*1000) / 1000
		last := signals[len(signals)-1].Timestamp
		stats.LastSignalAt = &last
	}

	return stats, nil
}
