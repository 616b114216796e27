package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/papertrade/bot-api/internal/types"
)

// Run outcomes recorded by the sink.
const (
	OutcomeSuccess          = "success"
	OutcomeSkippedDuplicate = "skipped_duplicate"
	OutcomeError            = "error"
)

// Event is one structured run notification keyed by (bot_id, run_id, stage).
type Event struct {
	BotID   string
	RunID   string
	Stage   string
	Outcome string
	Detail  string
}

// Sink receives run events. The orchestrator emits one per stage and one
// terminal event per run.
type Sink interface {
	Record(event Event)
}

// MakeInputsHash produces a stable SHA-256 over an arbitrary payload. Used
// to detect duplicate pipeline inputs.
func MakeInputsHash(payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// LogSink writes events to the structured log and persists terminal run
// outcomes so they are queryable after the fact.
type LogSink struct {
	db *gorm.DB
}

func NewLogSink(db *gorm.DB) *LogSink {
	return &LogSink{db: db}
}

func (s *LogSink) Record(event Event) {
	logger := log.With().
		Str("bot_id", event.BotID).
		Str("run_id", event.RunID).
		Str("stage", event.Stage).
		Logger()

	switch event.Outcome {
	case OutcomeError:
		logger.Error().Str("detail", event.Detail).Msg("run event")
	default:
		logger.Info().Str("outcome", event.Outcome).Str("detail", event.Detail).Msg("run event")
	}

	// Only terminal stages become durable records.
	if event.Stage != "completed" {
		return
	}

	record := types.RunLog{
		RunID:     event.RunID,
		BotID:     event.BotID,
		Stage:     event.Stage,
		Outcome:   event.Outcome,
		Detail:    event.Detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&record).Error; err != nil {
		logger.Error().Err(err).Msg("failed to persist run log")
	}
}
