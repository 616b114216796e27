package bot

import (
	"errors"
	"fmt"
)

var (
	// ErrBotNotFound marks a lookup miss, surfaced as 404.
	ErrBotNotFound = errors.New("bot not found")

	// ErrInvalidTransition marks a state command the bot's current state
	// does not allow. Surfaced synchronously; bot state is unchanged.
	ErrInvalidTransition = errors.New("invalid bot state transition")

	// ErrRunInFlight marks a trigger that found a prior run for the same
	// bot still executing. The trigger is dropped, never queued.
	ErrRunInFlight = errors.New("run already in flight for bot")

	// ErrBotRunning guards configuration updates, which are only permitted
	// while the bot is stopped.
	ErrBotRunning = errors.New("bot must be stopped for this operation")

	// ErrTooManyRunning marks a start or resume that would exceed the
	// configured concurrent bot limit.
	ErrTooManyRunning = errors.New("concurrent running bot limit reached")
)

// Run failure classes. Transient failures leave the bot RUNNING for the
// next tick; fatal ones transition it to ERROR and halt its schedule.
const (
	ClassTransient   = "transient_data"
	ClassInvariant   = "execution_invariant"
	ClassPersistence = "persistence"
)

// RunError tags a pipeline failure with enough context for diagnosis.
type RunError struct {
	BotID string
	RunID string
	Stage string
	Class string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s for bot %s failed at %s (%s): %v", e.RunID, e.BotID, e.Stage, e.Class, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Fatal reports whether this failure must halt the bot's schedule.
func (e *RunError) Fatal() bool {
	return e.Class == ClassInvariant || e.Class == ClassPersistence
}

func newRunError(botID, runID, stage, class string, err error) *RunError {
	return &RunError{BotID: botID, RunID: runID, Stage: stage, Class: class, Err: err}
}
