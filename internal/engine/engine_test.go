package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mystocks/internal/broker"
	"mystocks/internal/calendar"
	"mystocks/internal/config"
	"mystocks/internal/notify"
	"mystocks/internal/store"
	"mystocks/internal/universe"
)

type scriptBroker struct {
	quotes   map[string]broker.Quote
	quoteErr map[string]error
	balance  broker.Balance

	placeErr error
	placed   []broker.OrderRequest
	nextID   int

	statuses  map[string]broker.OrderStatus
	statusErr error

	cancelErr error
	cancelled []string
}

func newScriptBroker() *scriptBroker {
	return &scriptBroker{
		quotes:   map[string]broker.Quote{},
		quoteErr: map[string]error{},
		statuses: map[string]broker.OrderStatus{},
		balance:  broker.Balance{TotalAsset: 10_000_000, AvailableCash: 10_000_000},
	}
}

func (b *scriptBroker) Name() string { return "script" }

func (b *scriptBroker) GetQuote(ctx context.Context, code string) (broker.Quote, error) {
	if err := b.quoteErr[code]; err != nil {
		return broker.Quote{}, err
	}
	q, ok := b.quotes[code]
	if !ok {
		return broker.Quote{}, broker.Faultf(broker.FaultStaleData, "quote", "no quote for %s", code)
	}
	return q, nil
}

func (b *scriptBroker) GetBalance(ctx context.Context) (broker.Balance, error) {
	return b.balance, nil
}

func (b *scriptBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	if b.placeErr != nil {
		return broker.OrderAck{}, b.placeErr
	}
	b.placed = append(b.placed, req)
	b.nextID++
	return broker.OrderAck{OrderID: fmt.Sprintf("ORD%d", b.nextID), At: time.Now()}, nil
}

func (b *scriptBroker) GetOrderStatus(ctx context.Context, orderID string) (broker.OrderStatus, error) {
	if b.statusErr != nil {
		return broker.OrderStatus{}, b.statusErr
	}
	st, ok := b.statuses[orderID]
	if !ok {
		return broker.OrderStatus{}, broker.Faultf(broker.FaultStaleData, "order_status", "unknown %s", orderID)
	}
	return st, nil
}

func (b *scriptBroker) CancelOrder(ctx context.Context, orderID, code string, quantity int) error {
	b.cancelled = append(b.cancelled, orderID)
	return b.cancelErr
}

func engineCfg() config.StrategyConfig {
	return config.StrategyConfig{
		GapThreshold:          2.0,
		GapConfirmCount:       2,
		MaxRiseRate:           8.0,
		TakeProfitRate:        10.0,
		StopLossRate:          -4.0,
		TrailingStopRate:      0,
		ExitOrder:             []string{config.ExitTakeProfit, config.ExitStopLoss},
		MaxPositions:          5,
		MaxDailyLossRate:      5.0,
		DailyLossLatched:      true,
		AllocationPercent:     80,
		SlippageTicks:         2,
		OrderTimeoutSec:       5,
		OrderRetryCount:       0,
		OrderRetryDelayMs:     1,
		PendingFillTimeoutSec: 60,
		PrepareStart:          "08:40",
		EntryStart:            "09:00",
		EntryEnd:              "09:03",
		EODStart:              "15:20",
		EODEnd:                "15:28",
	}
}

type testEnv struct {
	eng     *Engine
	brk     *scriptBroker
	store   *store.Store
	now     time.Time
	ctx     context.Context
	t       *testing.T
	datadir string
}

// 2026-08-31 is a Monday; the prior trading day is Friday 2026-08-28.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "e.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	brk := newScriptBroker()
	cal := calendar.New()
	ub := universe.NewBuilder(st, brk, nil, cal, config.UniverseConfig{
		UpperLimitRate: 29.5, MinMarketCap: 0, MinTradingValue: 0,
	})

	env := &testEnv{brk: brk, store: st, ctx: context.Background(), t: t, datadir: t.TempDir()}
	eng, err := New(Deps{
		Mode:     "mock",
		Broker:   brk,
		Store:    st,
		Universe: ub,
		Calendar: cal,
		Notifier: notify.Nop{},
		DataDir:  env.datadir,
		Strategy: engineCfg(),
		MarketCf: config.MarketConfig{FilterEnabled: false},
	})
	require.NoError(t, err)
	env.eng = eng
	env.now = time.Date(2026, 8, 31, 8, 0, 0, 0, time.Local)
	eng.now = func() time.Time { return env.now }
	eng.restore(env.ctx)
	return env
}

func (e *testEnv) seedUniverse(recs ...store.UniverseRecord) {
	e.t.Helper()
	for i := range recs {
		recs[i].Mode = "mock"
		recs[i].Date = "2026-08-28"
	}
	require.NoError(e.t, e.store.SaveUniverse(e.ctx, "mock", "2026-08-28", recs))
}

func (e *testEnv) tickAt(hour, min, sec int) {
	e.now = time.Date(2026, 8, 31, hour, min, sec, 0, time.Local)
	e.eng.tick(e.ctx, e.now)
}

func (e *testEnv) pos(code string) *Position {
	e.t.Helper()
	p, ok := e.eng.st.Positions[code]
	require.True(e.t, ok, "position %s missing", code)
	return p
}

func TestPrepareLoadsUniverse(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniverse(
		store.UniverseRecord{Code: "111111", Name: "가산전자", PrevClose: 10000, MarketCap: 5000},
		store.UniverseRecord{Code: "222222", Name: "나래바이오", PrevClose: 8000, MarketCap: 1500},
	)

	env.tickAt(8, 40, 0)
	assert.Equal(t, PhasePreparing, env.eng.st.Phase)
	assert.InDelta(t, 10_000_000, env.eng.st.TotalAsset, 1e-9)
	require.Len(t, env.eng.st.Positions, 2)
	assert.Equal(t, PosWatching, env.pos("111111").State)
	assert.InDelta(t, 10000, env.pos("111111").PrevClose, 1e-9)
}

func TestEntryFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniverse(store.UniverseRecord{Code: "111111", Name: "가산전자", PrevClose: 10000})
	env.tickAt(8, 40, 0)

	// First confirming tick arms the counter, the second triggers entry.
	env.brk.quotes["111111"] = broker.Quote{Code: "111111", Price: 10300, Ask: 10300, PrevClose: 10000}
	env.tickAt(9, 0, 0)
	assert.Equal(t, PosWatching, env.pos("111111").State)
	assert.Equal(t, 1, env.pos("111111").GapConfirms)

	env.tickAt(9, 0, 1)
	p := env.pos("111111")
	assert.Equal(t, PosEntryPending, p.State)
	assert.Equal(t, "ORD1", p.OrderID)
	// Limit price: ask 10300 + 2 ticks of 50.
	assert.InDelta(t, 10400, p.LimitOrderPrice, 1e-9)
	// floor(10,000,000 * 80% / 5 / 10400) = 153.
	assert.Equal(t, 153, p.PendingQuantity)
	require.Len(t, env.brk.placed, 1)
	assert.Equal(t, broker.Buy, env.brk.placed[0].Side)

	// Fill arrives; the next tick folds it in.
	env.brk.statuses["ORD1"] = broker.OrderStatus{
		OrderID: "ORD1", Code: "111111", OrderQty: 153, FilledQty: 153, RemainingQty: 0, AvgFillPrice: 10350,
	}
	env.tickAt(9, 0, 2)
	assert.Equal(t, PosEntered, p.State)
	assert.Equal(t, 153, p.Quantity)
	assert.InDelta(t, 10350, p.EntryPrice, 1e-9)

	trades, err := env.store.ListTrades(env.ctx, "mock", "", "")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "buy", trades[0].Side)
}

func TestAntiChaseSkipsPosition(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniverse(store.UniverseRecord{Code: "111111", PrevClose: 10000})
	env.tickAt(8, 40, 0)

	env.brk.quotes["111111"] = broker.Quote{Code: "111111", Price: 10800, Ask: 10800, PrevClose: 10000}
	env.tickAt(9, 0, 0)
	assert.Equal(t, PosSkipped, env.pos("111111").State)
	assert.Empty(t, env.brk.placed, "a chased price must never reach the broker")
}

func TestStaleQuoteSkipsTick(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniverse(store.UniverseRecord{Code: "111111", PrevClose: 10000})
	env.tickAt(8, 40, 0)

	env.brk.quoteErr["111111"] = broker.Faultf(broker.FaultStaleData, "quote", "halted")
	env.tickAt(9, 0, 0)
	p := env.pos("111111")
	assert.Equal(t, PosWatching, p.State, "stale data skips the tick, never acts")
	assert.Equal(t, 0, p.GapConfirms)
}

func TestPendingFillTimeoutCancels(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniverse(store.UniverseRecord{Code: "111111", PrevClose: 10000})
	env.tickAt(8, 40, 0)

	env.brk.quotes["111111"] = broker.Quote{Code: "111111", Price: 10300, Ask: 10300, PrevClose: 10000}
	env.tickAt(9, 0, 0)
	env.tickAt(9, 0, 1)
	p := env.pos("111111")
	require.Equal(t, PosEntryPending, p.State)

	// Unfilled at the timeout: cancelled and skipped.
	env.brk.statuses["ORD1"] = broker.OrderStatus{OrderID: "ORD1", OrderQty: 153, FilledQty: 0, RemainingQty: 153}
	env.tickAt(9, 0, 50)
	assert.Equal(t, PosEntryPending, p.State, "before the timeout nothing happens")
	env.tickAt(9, 2, 2)
	assert.Equal(t, PosSkipped, p.State)
	assert.Equal(t, []string{"ORD1"}, env.brk.cancelled)
}

func TestPendingTimeoutPartialFillEnters(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniverse(store.UniverseRecord{Code: "111111", PrevClose: 10000})
	env.tickAt(8, 40, 0)

	env.brk.quotes["111111"] = broker.Quote{Code: "111111", Price: 10300, Ask: 10300, PrevClose: 10000}
	env.tickAt(9, 0, 0)
	env.tickAt(9, 0, 1)
	p := env.pos("111111")
	require.Equal(t, PosEntryPending, p.State)

	env.brk.statuses["ORD1"] = broker.OrderStatus{
		OrderID: "ORD1", OrderQty: 153, FilledQty: 60, RemainingQty: 93, AvgFillPrice: 10380,
	}
	env.tickAt(9, 2, 2)
	assert.Equal(t, PosEntered, p.State, "a nonzero fill keeps the position")
	assert.Equal(t, 60, p.Quantity)
	assert.InDelta(t, 10380, p.EntryPrice, 1e-9)
}

func TestWindowCloseCancelsPendingEntries(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniverse(store.UniverseRecord{Code: "111111", PrevClose: 10000})
	env.tickAt(8, 40, 0)

	env.brk.quotes["111111"] = broker.Quote{Code: "111111", Price: 10300, Ask: 10300, PrevClose: 10000}
	env.tickAt(9, 0, 0)
	env.tickAt(9, 0, 1)
	p := env.pos("111111")
	require.Equal(t, PosEntryPending, p.State)

	env.brk.statuses["ORD1"] = broker.OrderStatus{OrderID: "ORD1", OrderQty: 153, FilledQty: 0, RemainingQty: 153}
	env.tickAt(9, 3, 0)
	assert.Equal(t, PhaseMonitoring, env.eng.st.Phase)
	assert.Equal(t, PosSkipped, p.State)
	assert.Equal(t, []string{"ORD1"}, env.brk.cancelled)
}

func TestCancelTooLateBecomesFill(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniverse(store.UniverseRecord{Code: "111111", PrevClose: 10000})
	env.tickAt(8, 40, 0)

	env.brk.quotes["111111"] = broker.Quote{Code: "111111", Price: 10300, Ask: 10300, PrevClose: 10000}
	env.tickAt(9, 0, 0)
	env.tickAt(9, 0, 1)
	p := env.pos("111111")
	require.Equal(t, PosEntryPending, p.State)

	env.brk.cancelErr = broker.Faultf(broker.FaultAmbiguous, "cancel", "too late to cancel")
	env.brk.statuses["ORD1"] = broker.OrderStatus{
		OrderID: "ORD1", OrderQty: 153, FilledQty: 153, RemainingQty: 0, AvgFillPrice: 10400,
	}
	env.tickAt(9, 3, 0)
	assert.Equal(t, PosEntered, p.State, "too late to cancel means the order filled")
	assert.Equal(t, 153, p.Quantity)
}

func entered(env *testEnv, code string, entryPrice float64, qty int) *Position {
	p := &Position{
		Code: code, State: PosEntered, PrevClose: 10000,
		EntryPrice: entryPrice, Quantity: qty, HighWaterMark: entryPrice,
	}
	env.eng.st.Positions[code] = p
	return p
}

func TestTakeProfitExit(t *testing.T) {
	env := newTestEnv(t)
	env.tickAt(8, 40, 0)
	p := entered(env, "111111", 10000, 100)

	env.brk.quotes["111111"] = broker.Quote{Code: "111111", Price: 11100}
	env.tickAt(10, 0, 0)
	require.Equal(t, PosExitPending, p.State)
	assert.Equal(t, config.ExitTakeProfit, p.ExitReason)
	require.Len(t, env.brk.placed, 1)
	assert.Equal(t, broker.Sell, env.brk.placed[0].Side)
	assert.InDelta(t, 0, env.brk.placed[0].Price, 1e-9, "exits go out at market")

	env.brk.statuses["ORD1"] = broker.OrderStatus{
		OrderID: "ORD1", OrderQty: 100, FilledQty: 100, RemainingQty: 0, AvgFillPrice: 11050,
	}
	env.tickAt(10, 0, 2)
	assert.Equal(t, PosClosed, p.State)
	assert.Zero(t, p.Quantity, "a closed position holds nothing")
	assert.Equal(t, 1, env.eng.st.TotalTrades)
	assert.Equal(t, 1, env.eng.st.WinningTrades)
	assert.InDelta(t, 105000, env.eng.st.DailyPnl, 1e-9)

	trades, err := env.store.ListTrades(env.ctx, "mock", "", "")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, config.ExitTakeProfit, trades[0].ExitReason)
	assert.InDelta(t, 105000, trades[0].Pnl, 1e-9)
}

func TestEODForcesAllExits(t *testing.T) {
	env := newTestEnv(t)
	env.tickAt(8, 40, 0)
	p1 := entered(env, "111111", 10000, 100)
	p2 := entered(env, "222222", 8000, 50)

	// Neither position hit any configured exit condition; EOD overrides.
	env.tickAt(15, 20, 0)
	assert.Equal(t, PhaseEODClosing, env.eng.st.Phase)
	assert.Equal(t, PosExitPending, p1.State)
	assert.Equal(t, PosExitPending, p2.State)
	assert.Equal(t, exitReasonEOD, p1.ExitReason)
	assert.Equal(t, exitReasonEOD, p2.ExitReason)
	assert.Len(t, env.brk.placed, 2)

	// Both market orders fill; quantity only lives on ENTERED/EXIT_PENDING.
	for _, p := range []*Position{p1, p2} {
		env.brk.statuses[p.OrderID] = broker.OrderStatus{
			OrderID: p.OrderID, OrderQty: p.Quantity, FilledQty: p.Quantity, AvgFillPrice: p.EntryPrice,
		}
	}
	env.tickAt(15, 20, 1)
	for _, p := range []*Position{p1, p2} {
		assert.Equal(t, PosClosed, p.State)
		assert.Zero(t, p.Quantity)
	}
}

func TestDailyLossBreakerBlocksNewEntries(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniverse(
		store.UniverseRecord{Code: "111111", PrevClose: 10000},
		store.UniverseRecord{Code: "222222", PrevClose: 10000},
	)
	env.tickAt(8, 40, 0)

	// A closed trade pushes the day past -5%.
	loser := entered(env, "999999", 10000, 600)
	loser.State = PosExitPending
	loser.OrderID = "ORDX"
	loser.ExitReason = config.ExitStopLoss
	env.brk.statuses["ORDX"] = broker.OrderStatus{
		OrderID: "ORDX", OrderQty: 600, FilledQty: 600, RemainingQty: 0, AvgFillPrice: 9000,
	}
	env.brk.quotes["111111"] = broker.Quote{Code: "111111", Price: 10300, Ask: 10300, PrevClose: 10000}
	env.tickAt(9, 0, 0)
	require.Equal(t, PosClosed, loser.State)
	require.True(t, env.eng.riskMgr.BreakerTripped())

	env.tickAt(9, 0, 1)
	assert.Equal(t, PosSkipped, env.pos("111111").State)
	assert.Empty(t, env.brk.placed)
}

func TestRestartResumesAndReconciles(t *testing.T) {
	env := newTestEnv(t)
	env.tickAt(8, 40, 0)

	st := env.eng.st
	st.Phase = PhaseEntryWindow
	st.TotalAsset = 10_000_000
	st.Positions["111111"] = &Position{
		Code: "111111", State: PosEntryPending, PrevClose: 10000,
		OrderID: "ORD9", PendingQuantity: 100, OrderTime: env.now,
	}
	require.NoError(t, saveSnapshot(snapshotPath(env.datadir, "mock"), st))

	// The order filled while the process was down.
	env.brk.statuses["ORD9"] = broker.OrderStatus{
		OrderID: "ORD9", OrderQty: 100, FilledQty: 100, RemainingQty: 0, AvgFillPrice: 10200,
	}

	eng2, err := New(Deps{
		Mode: "mock", Broker: env.brk, Store: env.store,
		Universe: env.eng.universe, Calendar: env.eng.cal,
		DataDir: env.datadir, Strategy: engineCfg(),
	})
	require.NoError(t, err)
	eng2.now = env.eng.now
	eng2.restore(env.ctx)

	p, ok := eng2.st.Positions["111111"]
	require.True(t, ok)
	assert.Equal(t, PosEntered, p.State)
	assert.Equal(t, 100, p.Quantity)
	assert.InDelta(t, 10200, p.EntryPrice, 1e-9)
}

func TestRestartDiscardsStaleSnapshot(t *testing.T) {
	env := newTestEnv(t)
	old := newState("mock", "2026-08-28")
	old.Positions["111111"] = &Position{Code: "111111", State: PosEntered, Quantity: 10}
	require.NoError(t, saveSnapshot(snapshotPath(env.datadir, "mock"), old))

	env.eng.restore(env.ctx)
	assert.Equal(t, "2026-08-31", env.eng.st.TradingDate)
	assert.Empty(t, env.eng.st.Positions, "a prior day's state never carries over")
}

func TestEntryPriorityFollowsUniverseRank(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniverse(
		store.UniverseRecord{Code: "111111", Name: "소형테크", PrevClose: 10000, MarketCap: 1200},
		store.UniverseRecord{Code: "222222", Name: "대형전자", PrevClose: 20000, MarketCap: 9000},
	)
	cfg := engineCfg()
	cfg.MaxPositions = 1
	require.NoError(t, env.eng.applyConfig(cfg))
	env.tickAt(8, 40, 0)
	require.Equal(t, []string{"222222", "111111"}, env.eng.st.EntryOrder)

	// Both instruments confirm on the same ticks; the single remaining slot
	// must go to the higher market cap, not to map iteration luck.
	env.brk.quotes["111111"] = broker.Quote{Code: "111111", Price: 10300, Ask: 10300, PrevClose: 10000}
	env.brk.quotes["222222"] = broker.Quote{Code: "222222", Price: 20600, Ask: 20600, PrevClose: 20000}
	env.tickAt(9, 0, 0)
	env.tickAt(9, 0, 1)

	assert.Equal(t, PosEntryPending, env.pos("222222").State)
	assert.Equal(t, PosSkipped, env.pos("111111").State)
	require.Len(t, env.brk.placed, 1)
	assert.Equal(t, "222222", env.brk.placed[0].Code)
}

func TestRestartKeepsTrippedBreaker(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniverse(store.UniverseRecord{Code: "111111", PrevClose: 10000})
	env.tickAt(8, 40, 0)

	// The day trips at -6%, then a later exit recovers it to -2%. The net
	// pnl alone would not re-trip, so the latch itself must be persisted.
	env.eng.riskMgr.RecordPnl(-600_000)
	require.True(t, env.eng.riskMgr.BreakerTripped())
	env.eng.riskMgr.RecordPnl(400_000)
	env.eng.st.DailyPnl, env.eng.st.DailyPnlRate = env.eng.riskMgr.DailyPnl()
	env.eng.publish()
	env.eng.persist()

	eng2, err := New(Deps{
		Mode: "mock", Broker: env.brk, Store: env.store,
		Universe: env.eng.universe, Calendar: env.eng.cal,
		DataDir: env.datadir, Strategy: engineCfg(),
	})
	require.NoError(t, err)
	eng2.now = env.eng.now
	eng2.restore(env.ctx)
	require.True(t, eng2.riskMgr.BreakerTripped(), "latch survives the restart")

	env.brk.quotes["111111"] = broker.Quote{Code: "111111", Price: 10300, Ask: 10300, PrevClose: 10000}
	env.now = time.Date(2026, 8, 31, 9, 0, 0, 0, time.Local)
	eng2.tick(env.ctx, env.now)
	env.now = time.Date(2026, 8, 31, 9, 0, 1, 0, time.Local)
	eng2.tick(env.ctx, env.now)

	assert.Equal(t, PosSkipped, eng2.st.Positions["111111"].State)
	assert.Empty(t, env.brk.placed)
}

func TestRestartKeepsMarketFilterVerdict(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniverse(store.UniverseRecord{Code: "111111", PrevClose: 10000})
	env.tickAt(8, 40, 0)

	// The index filter disabled entries for the session.
	env.eng.entryAllowed = false
	env.eng.publish()
	env.eng.persist()

	eng2, err := New(Deps{
		Mode: "mock", Broker: env.brk, Store: env.store,
		Universe: env.eng.universe, Calendar: env.eng.cal,
		DataDir: env.datadir, Strategy: engineCfg(),
	})
	require.NoError(t, err)
	eng2.now = env.eng.now
	eng2.restore(env.ctx)
	require.False(t, eng2.entryAllowed, "filter verdict survives the restart")

	// A mid-window resume must not quietly re-enable entries.
	env.brk.quotes["111111"] = broker.Quote{Code: "111111", Price: 10300, Ask: 10300, PrevClose: 10000}
	env.now = time.Date(2026, 8, 31, 9, 0, 0, 0, time.Local)
	eng2.tick(env.ctx, env.now)
	env.now = time.Date(2026, 8, 31, 9, 0, 1, 0, time.Local)
	eng2.tick(env.ctx, env.now)

	assert.Equal(t, PosWatching, eng2.st.Positions["111111"].State)
	assert.Empty(t, env.brk.placed)
}

func TestManualBuyAndSell(t *testing.T) {
	env := newTestEnv(t)
	env.tickAt(8, 40, 0)
	env.eng.st.TotalAsset = 10_000_000

	env.brk.quotes["005930"] = broker.Quote{Code: "005930", Price: 71000, Ask: 71100, PrevClose: 69800}
	require.NoError(t, env.eng.manualBuy(env.ctx, "005930", 0))
	p := env.pos("005930")
	assert.Equal(t, PosEntryPending, p.State)
	// ask 71100 + 2 ticks of 100; floor(1,600,000 / 71300) = 22.
	assert.InDelta(t, 71300, p.LimitOrderPrice, 1e-9)
	assert.Equal(t, 22, p.PendingQuantity)

	// A second buy on the same instrument is refused while one is in flight.
	err := env.eng.manualBuy(env.ctx, "005930", 10)
	assert.Equal(t, broker.FaultValidation, broker.KindOf(err))

	env.brk.statuses["ORD1"] = broker.OrderStatus{
		OrderID: "ORD1", OrderQty: 22, FilledQty: 22, RemainingQty: 0, AvgFillPrice: 71200,
	}
	env.tickAt(10, 0, 0)
	require.Equal(t, PosEntered, p.State)

	require.NoError(t, env.eng.manualSell(env.ctx, "005930", 0))
	assert.Equal(t, PosExitPending, p.State)
	assert.Equal(t, exitReasonManual, p.ExitReason)

	// While the manual exit is pending, the autonomous loop cannot submit a
	// second exit for the same position.
	before := len(env.brk.placed)
	env.brk.quotes["005930"] = broker.Quote{Code: "005930", Price: 80000}
	env.tickAt(10, 0, 2)
	assert.Len(t, env.brk.placed, before)
}

func TestManualSellRequiresEnteredPosition(t *testing.T) {
	env := newTestEnv(t)
	env.tickAt(8, 40, 0)
	err := env.eng.manualSell(env.ctx, "005930", 0)
	require.Error(t, err)
	assert.Equal(t, broker.FaultValidation, broker.KindOf(err))
}

func TestUpdateConfigValidates(t *testing.T) {
	env := newTestEnv(t)

	bad := engineCfg()
	bad.GapThreshold = -1
	assert.Error(t, env.eng.applyConfig(bad))

	good := engineCfg()
	good.GapThreshold = 3.5
	good.MaxPositions = 2
	require.NoError(t, env.eng.applyConfig(good))
	assert.InDelta(t, 3.5, env.eng.cfg.GapThreshold, 1e-9)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	env := newTestEnv(t)
	env.tickAt(8, 40, 0)
	entered(env, "111111", 10000, 100)
	env.eng.publish()

	snap := env.eng.Snapshot()
	snap.Positions["111111"].Quantity = 1

	assert.Equal(t, 100, env.eng.st.Positions["111111"].Quantity,
		"mutating a snapshot must not touch live state")
}
