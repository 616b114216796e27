package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RunFunc executes one scheduled run for a bot. It must be safe to call
// concurrently for different bot IDs.
type RunFunc func(ctx context.Context, botID string)

type entry struct {
	interval time.Duration
	nextFire time.Time
	paused   bool
	inFlight bool
	missed   int64
}

// Scheduler owns the table of registered bots and fires each at its
// configured interval. At most one run is in flight per bot: a trigger that
// finds a prior run still executing is dropped and counted, never queued.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	run     RunFunc
	tick    time.Duration
	wg      sync.WaitGroup
}

func New(run RunFunc) *Scheduler {
	return &Scheduler{
		entries: make(map[string]*entry),
		run:     run,
		tick:    time.Second,
	}
}

// Start begins the trigger loop and blocks until the context is cancelled.
// In-flight runs are waited for on shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "scheduler").Logger()
	logger.Info().Msg("starting scheduler")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down scheduler")
			s.wg.Wait()
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for botID, e := range s.entries {
		if e.paused || now.Before(e.nextFire) {
			continue
		}
		e.nextFire = now.Add(e.interval)

		if e.inFlight {
			e.missed++
			log.Warn().
				Str("bot_id", botID).
				Int64("missed", e.missed).
				Msg("dropping trigger, prior run still in flight")
			continue
		}
		e.inFlight = true

		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			defer s.clearInFlight(id)
			s.run(ctx, id)
		}(botID)
	}
}

func (s *Scheduler) clearInFlight(botID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[botID]; ok {
		e.inFlight = false
	}
}

// Register adds or replaces a bot's trigger. The first fire happens one
// interval from now.
func (s *Scheduler) Register(botID string, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[botID] = &entry{
		interval: interval,
		nextFire: time.Now().Add(interval),
	}
	log.Info().
		Str("bot_id", botID).
		Dur("interval", interval).
		Msg("bot registered with scheduler")
}

// Deregister removes a bot's trigger. A run already in flight is not
// interrupted but nothing re-arms afterwards.
func (s *Scheduler) Deregister(botID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, botID)
	log.Info().Str("bot_id", botID).Msg("bot deregistered from scheduler")
}

// Pause suspends triggering while keeping the registration.
func (s *Scheduler) Pause(botID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[botID]; ok {
		e.paused = true
	}
}

// Resume re-enables triggering; the next fire is one interval out.
func (s *Scheduler) Resume(botID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[botID]; ok {
		e.paused = false
		e.nextFire = time.Now().Add(e.interval)
	}
}

// Stats exposes a bot's next fire time and dropped-trigger count.
func (s *Scheduler) Stats(botID string) (nextFire *time.Time, missed int64, registered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[botID]
	if !ok {
		return nil, 0, false
	}
	t := e.nextFire
	return &t, e.missed, true
}
