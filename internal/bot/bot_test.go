package bot

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/papertrade/bot-api/internal/database"
	"github.com/papertrade/bot-api/internal/strategy"
	"github.com/papertrade/bot-api/internal/types"
)

// fakeSchedule records scheduler calls without running anything.
type fakeSchedule struct {
	registered map[string]time.Duration
	paused     map[string]bool
}

func newFakeSchedule() *fakeSchedule {
	return &fakeSchedule{
		registered: make(map[string]time.Duration),
		paused:     make(map[string]bool),
	}
}

func (f *fakeSchedule) Register(botID string, interval time.Duration) {
	f.registered[botID] = interval
	f.paused[botID] = false
}

func (f *fakeSchedule) Deregister(botID string) {
	delete(f.registered, botID)
	delete(f.paused, botID)
}

func (f *fakeSchedule) Pause(botID string)  { f.paused[botID] = true }
func (f *fakeSchedule) Resume(botID string) { f.paused[botID] = false }

func (f *fakeSchedule) Stats(botID string) (*time.Time, int64, bool) {
	_, ok := f.registered[botID]
	return nil, 0, ok
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.NewDatabase(dsn)
	require.NoError(t, err)
	return db
}

func testService(t *testing.T) (*Service, *fakeSchedule) {
	t.Helper()
	sched := newFakeSchedule()
	svc := NewService(testDB(t), strategy.NewRegistry(), sched, 30, 0)
	return svc, sched
}

func validRequest() *CreateRequest {
	return &CreateRequest{
		Name:            "breakout-btc",
		AssetType:       "CRYPTO",
		Symbol:          "BTCUSDT",
		Timeframe:       "1h",
		StrategyID:      "blue_sky",
		IntervalSeconds: 60,
		Params:          map[string]interface{}{"lookback": 10, "min_confidence": 0.5},
	}
}

func TestCreateBot(t *testing.T) {
	svc, _ := testService(t)

	bot, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, bot.BotID)
	assert.Equal(t, types.BotStateStopped, bot.State)
	assert.Equal(t, "client-1", bot.OwnerID)

	params, err := bot.GetParams()
	require.NoError(t, err)
	assert.Equal(t, float64(10), params["lookback"])
}

func TestCreateBot_Validation(t *testing.T) {
	svc, _ := testService(t)

	cases := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"bad asset type", func(r *CreateRequest) { r.AssetType = "BONDS" }},
		{"bad timeframe", func(r *CreateRequest) { r.Timeframe = "7m" }},
		{"interval below minimum", func(r *CreateRequest) { r.IntervalSeconds = 10 }},
		{"unknown strategy", func(r *CreateRequest) { r.StrategyID = "momentum" }},
		{"bad params", func(r *CreateRequest) { r.Params = map[string]interface{}{"lookback": 3} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req)
			_, err := svc.CreateBot("client-1", req)
			assert.Error(t, err)
		})
	}
}

func TestGetOwnedBot_Isolation(t *testing.T) {
	svc, _ := testService(t)

	bot, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)

	found, err := svc.GetOwnedBot(bot.BotID, "client-1")
	require.NoError(t, err)
	require.NotNil(t, found)

	// Other owners must not see the bot
	_, err = svc.GetOwnedBot(bot.BotID, "client-2")
	assert.ErrorIs(t, err, ErrBotNotFound)
}

func TestUpdateBot_OnlyWhileStopped(t *testing.T) {
	svc, _ := testService(t)

	bot, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.Name = "renamed"
	updated, err := svc.UpdateBot(bot.BotID, "client-1", req)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	_, err = svc.StartBot(bot.BotID, "client-1")
	require.NoError(t, err)

	_, err = svc.UpdateBot(bot.BotID, "client-1", req)
	assert.ErrorIs(t, err, ErrBotRunning)
}

func TestLifecycleTransitions(t *testing.T) {
	svc, sched := testService(t)

	bot, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)

	started, err := svc.StartBot(bot.BotID, "client-1")
	require.NoError(t, err)
	assert.Equal(t, types.BotStateRunning, started.State)
	assert.Contains(t, sched.registered, bot.BotID)

	paused, err := svc.PauseBot(bot.BotID, "client-1")
	require.NoError(t, err)
	assert.Equal(t, types.BotStatePaused, paused.State)
	assert.True(t, sched.paused[bot.BotID])

	resumed, err := svc.ResumeBot(bot.BotID, "client-1")
	require.NoError(t, err)
	assert.Equal(t, types.BotStateRunning, resumed.State)
	assert.False(t, sched.paused[bot.BotID])

	stopped, err := svc.StopBot(bot.BotID, "client-1")
	require.NoError(t, err)
	assert.Equal(t, types.BotStateStopped, stopped.State)
	assert.NotContains(t, sched.registered, bot.BotID)
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	svc, _ := testService(t)

	bot, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)

	// pause and resume require a running or paused bot
	_, err = svc.PauseBot(bot.BotID, "client-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.ResumeBot(bot.BotID, "client-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLifecycle_IdempotentCommands(t *testing.T) {
	svc, _ := testService(t)

	bot, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)

	// stop on STOPPED is a no-op, not an error
	stopped, err := svc.StopBot(bot.BotID, "client-1")
	require.NoError(t, err)
	assert.Equal(t, types.BotStateStopped, stopped.State)

	_, err = svc.StartBot(bot.BotID, "client-1")
	require.NoError(t, err)

	// start on RUNNING is a no-op
	again, err := svc.StartBot(bot.BotID, "client-1")
	require.NoError(t, err)
	assert.Equal(t, types.BotStateRunning, again.State)
}

func TestStartBot_ConcurrentLimit(t *testing.T) {
	sched := newFakeSchedule()
	svc := NewService(testDB(t), strategy.NewRegistry(), sched, 30, 1)

	first, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)
	second, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)

	_, err = svc.StartBot(first.BotID, "client-1")
	require.NoError(t, err)

	_, err = svc.StartBot(second.BotID, "client-1")
	assert.ErrorIs(t, err, ErrTooManyRunning)

	// start on an already-running bot is still a no-op, not a limit hit
	_, err = svc.StartBot(first.BotID, "client-1")
	require.NoError(t, err)

	// stopping the first frees a slot
	_, err = svc.StopBot(first.BotID, "client-1")
	require.NoError(t, err)
	_, err = svc.StartBot(second.BotID, "client-1")
	require.NoError(t, err)
}

func TestNextState(t *testing.T) {
	cases := []struct {
		current string
		command string
		next    string
		noop    bool
		wantErr bool
	}{
		{types.BotStateStopped, "start", types.BotStateRunning, false, false},
		{types.BotStateError, "start", types.BotStateRunning, false, false},
		{types.BotStateRunning, "start", types.BotStateRunning, true, false},
		{types.BotStatePaused, "start", "", false, true},
		{types.BotStateRunning, "stop", types.BotStateStopped, false, false},
		{types.BotStatePaused, "stop", types.BotStateStopped, false, false},
		{types.BotStateError, "stop", types.BotStateStopped, false, false},
		{types.BotStateStopped, "stop", types.BotStateStopped, true, false},
		{types.BotStateRunning, "pause", types.BotStatePaused, false, false},
		{types.BotStatePaused, "pause", types.BotStatePaused, true, false},
		{types.BotStateStopped, "pause", "", false, true},
		{types.BotStateError, "pause", "", false, true},
		{types.BotStatePaused, "resume", types.BotStateRunning, false, false},
		{types.BotStateRunning, "resume", types.BotStateRunning, true, false},
		{types.BotStateStopped, "resume", "", false, true},
		{types.BotStateError, "resume", "", false, true},
	}

	for _, tc := range cases {
		t.Run(tc.command+" from "+tc.current, func(t *testing.T) {
			next, noop, err := nextState(tc.current, tc.command)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.next, next)
			assert.Equal(t, tc.noop, noop)
		})
	}
}

func TestDeleteBot_DeregistersSchedule(t *testing.T) {
	svc, sched := testService(t)

	bot, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)

	_, err = svc.StartBot(bot.BotID, "client-1")
	require.NoError(t, err)
	require.Contains(t, sched.registered, bot.BotID)

	require.NoError(t, svc.DeleteBot(bot.BotID, "client-1"))
	assert.NotContains(t, sched.registered, bot.BotID)

	_, err = svc.GetOwnedBot(bot.BotID, "client-1")
	assert.ErrorIs(t, err, ErrBotNotFound)
}

func TestRestoreSchedule(t *testing.T) {
	db := testDB(t)
	sched := newFakeSchedule()
	svc := NewService(db, strategy.NewRegistry(), sched, 30, 0)

	running, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)
	_, err = svc.StartBot(running.BotID, "client-1")
	require.NoError(t, err)

	paused, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)
	_, err = svc.StartBot(paused.BotID, "client-1")
	require.NoError(t, err)
	_, err = svc.PauseBot(paused.BotID, "client-1")
	require.NoError(t, err)

	stopped, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)

	// A fresh schedule simulates a restart
	restored := newFakeSchedule()
	restarted := NewService(db, strategy.NewRegistry(), restored, 30, 0)
	require.NoError(t, restarted.RestoreSchedule())

	assert.Contains(t, restored.registered, running.BotID)
	assert.False(t, restored.paused[running.BotID])
	assert.Contains(t, restored.registered, paused.BotID)
	assert.True(t, restored.paused[paused.BotID])
	assert.NotContains(t, restored.registered, stopped.BotID)
}

func TestSignalStats(t *testing.T) {
	db := testDB(t)
	svc := NewService(db, strategy.NewRegistry(), newFakeSchedule(), 30, 0)

	bot, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)

	now := time.Now().UTC()
	seed := []types.Signal{
		{SignalID: "sig-1", BotID: bot.BotID, Timestamp: now.Add(-48 * time.Hour), SignalType: types.SignalBuy, Confidence: 0.9, InputsHash: "h1"},
		{SignalID: "sig-2", BotID: bot.BotID, Timestamp: now.Add(-24 * time.Hour), SignalType: types.SignalHold, Confidence: 0.4, InputsHash: "h2"},
		{SignalID: "sig-3", BotID: bot.BotID, Timestamp: now.Add(-time.Hour), SignalType: types.SignalSell, Confidence: 0.8, InputsHash: "h3"},
		// Older than the default 30-day window
		{SignalID: "sig-4", BotID: bot.BotID, Timestamp: now.AddDate(0, 0, -40), SignalType: types.SignalBuy, Confidence: 1.0, InputsHash: "h4"},
	}
	for i := range seed {
		require.NoError(t, db.Create(&seed[i]).Error)
	}

	stats, err := svc.SignalStats(bot.BotID, 0)
	require.NoError(t, err)

	assert.Equal(t, 30, stats.PeriodDays)
	assert.Equal(t, int64(3), stats.TotalSignals)
	assert.Equal(t, int64(1), stats.BuySignals)
	assert.Equal(t, int64(1), stats.SellSignals)
	assert.Equal(t, int64(1), stats.HoldSignals)
	assert.InDelta(t, 0.7, stats.AvgConfidence, 1e-9)
	assert.Equal(t, int64(2), stats.HighConfidenceSignals)
	require.NotNil(t, stats.LastSignalAt)
	assert.WithinDuration(t, now.Add(-time.Hour), *stats.LastSignalAt, time.Second)
}

func TestSignalStats_Empty(t *testing.T) {
	svc, _ := testService(t)

	bot, err := svc.CreateBot("client-1", validRequest())
	require.NoError(t, err)

	stats, err := svc.SignalStats(bot.BotID, 7)
	require.NoError(t, err)

	assert.Equal(t, 7, stats.PeriodDays)
	assert.Equal(t, int64(0), stats.TotalSignals)
	assert.Zero(t, stats.AvgConfidence)
	assert.Nil(t, stats.LastSignalAt)
}
