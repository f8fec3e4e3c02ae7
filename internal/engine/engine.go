// Package engine runs the per-mode trading loop: a wall-clock phase
// scheduler driving per-instrument position state machines. One goroutine
// owns all strategy state; manual commands and the autonomous tick both pass
// through it, so a manual sell and a take-profit exit can never race.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"mystocks/internal/broker"
	"mystocks/internal/calendar"
	"mystocks/internal/config"
	"mystocks/internal/executor"
	"mystocks/internal/logger"
	"mystocks/internal/marketdata"
	"mystocks/internal/notify"
	"mystocks/internal/risk"
	"mystocks/internal/store"
	"mystocks/internal/universe"
)

// ErrNotRunning is returned for commands sent to a stopped engine.
var ErrNotRunning = errors.New("engine: not running")

const (
	exitReasonEOD    = "eod"
	exitReasonManual = "manual"
)

// Deps wires one engine instance.
type Deps struct {
	Mode     string // "mock" or "real"
	Broker   broker.Broker
	Store    *store.Store
	Universe *universe.Builder
	Market   *marketdata.Source
	Calendar *calendar.Calendar
	Notifier notify.Notifier
	DataDir  string

	Strategy config.StrategyConfig
	MarketCf config.MarketConfig
}

type cmdKind int

const (
	cmdManualBuy cmdKind = iota
	cmdManualSell
	cmdUpdateConfig
	cmdRefresh
)

type command struct {
	kind  cmdKind
	code  string
	qty   int
	cfg   config.StrategyConfig
	reply chan error
}

// Engine is one mode context. Create with New, drive with Run.
type Engine struct {
	mode     string
	broker   broker.Broker
	exec     *executor.Executor
	riskMgr  *risk.Manager
	store    *store.Store
	universe *universe.Builder
	market   *marketdata.Source
	cal      *calendar.Calendar
	notifier notify.Notifier
	dataDir  string

	// Loop-owned; never touched outside the run goroutine once started.
	cfg          config.StrategyConfig
	marketCfg    config.MarketConfig
	clk          Clock
	st           *State
	entryAllowed bool

	cmds     chan command
	snapshot atomic.Value // *State
	running  atomic.Bool

	now func() time.Time
}

func New(d Deps) (*Engine, error) {
	if err := d.Strategy.Validate(); err != nil {
		return nil, err
	}
	clk, err := ClockFromConfig(d.Strategy)
	if err != nil {
		return nil, err
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	e := &Engine{
		mode:         d.Mode,
		broker:       d.Broker,
		exec:         executor.New(d.Broker, d.Strategy),
		riskMgr:      risk.NewManager(d.Strategy),
		store:        d.Store,
		universe:     d.Universe,
		market:       d.Market,
		cal:          d.Calendar,
		notifier:     notifier,
		dataDir:      d.DataDir,
		cfg:          d.Strategy,
		marketCfg:    d.MarketCf,
		clk:          clk,
		entryAllowed: true,
		cmds:         make(chan command),
		now:          time.Now,
	}
	e.snapshot.Store(newState(d.Mode, ""))
	return e, nil
}

// Mode returns the engine's mode label.
func (e *Engine) Mode() string { return e.mode }

// Running reports whether the loop is live.
func (e *Engine) Running() bool { return e.running.Load() }

// Snapshot returns the latest published state copy. Never nil.
func (e *Engine) Snapshot() *State {
	return e.snapshot.Load().(*State)
}

// Run drives the loop until ctx is cancelled. It restores persisted state
// first: same-day snapshots resume in place with in-flight orders
// re-queried against the broker; stale snapshots are discarded.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine: %s already running", e.mode)
	}
	defer e.running.Store(false)

	e.restore(ctx)
	e.publish()

	for {
		interval := TickInterval(e.st.Phase)
		select {
		case <-ctx.Done():
			e.persist()
			logger.Infof("engine[%s]: stopped", e.mode)
			return ctx.Err()
		case cmd := <-e.cmds:
			cmd.reply <- e.handleCommand(ctx, cmd)
			e.publish()
			e.persist()
		case <-time.After(interval):
			e.tick(ctx, e.now())
			e.publish()
			if e.st.Phase != PhaseIdle {
				e.persist()
			}
		}
	}
}

// ManualBuy buys code from the control surface. quantity 0 sizes the order
// the same way an autonomous entry would.
func (e *Engine) ManualBuy(ctx context.Context, code string, quantity int) error {
	return e.send(ctx, command{kind: cmdManualBuy, code: code, qty: quantity})
}

// ManualSell sells code. quantity 0 means the full position.
func (e *Engine) ManualSell(ctx context.Context, code string, quantity int) error {
	return e.send(ctx, command{kind: cmdManualSell, code: code, qty: quantity})
}

// UpdateConfig swaps strategy parameters after validation.
func (e *Engine) UpdateConfig(ctx context.Context, cfg config.StrategyConfig) error {
	return e.send(ctx, command{kind: cmdUpdateConfig, cfg: cfg})
}

// RefreshPositions re-reads the broker balance and reconciles held
// quantities.
func (e *Engine) RefreshPositions(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdRefresh})
}

func (e *Engine) send(ctx context.Context, cmd command) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	cmd.reply = make(chan error, 1)
	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) publish() {
	e.st.LastUpdate = e.now()
	e.st.Running = e.running.Load()
	e.st.BreakerTripped = e.riskMgr.BreakerTripped()
	e.st.EntryAllowed = e.entryAllowed
	e.snapshot.Store(e.st.clone())
}

func (e *Engine) persist() {
	if err := saveSnapshot(snapshotPath(e.dataDir, e.mode), e.st); err != nil {
		logger.Errorf("engine[%s]: persist: %v", e.mode, err)
	}
}

// restore loads the snapshot and reconciles it against today's date and the
// broker's view of in-flight orders.
func (e *Engine) restore(ctx context.Context) {
	now := e.now()
	today := now.Format("2006-01-02")
	st, err := loadSnapshot(snapshotPath(e.dataDir, e.mode))
	if err != nil {
		logger.Errorf("engine[%s]: restore: %v", e.mode, err)
	}
	if st == nil || st.TradingDate != today {
		if st != nil {
			logger.Infof("engine[%s]: snapshot from %s discarded, fresh day %s", e.mode, st.TradingDate, today)
		}
		e.st = newState(e.mode, today)
		return
	}
	e.st = st
	logger.Infof("engine[%s]: resumed state for %s (%d positions)", e.mode, today, len(st.Positions))
	e.riskMgr.StartDay(today, st.TotalAsset)
	if st.DailyPnl != 0 {
		e.riskMgr.RecordPnl(st.DailyPnl)
	}
	// Replaying the net pnl is not enough to reconstruct the gates: a latched
	// breaker stays down even after later exits pull the day back above the
	// threshold, and the market filter verdict holds for the whole session.
	if st.BreakerTripped {
		e.riskMgr.Trip()
	}
	e.entryAllowed = st.EntryAllowed
	for _, p := range st.Positions {
		if (p.State == PosEntryPending || p.State == PosExitPending) && p.OrderID != "" {
			e.reconcileOrder(ctx, p)
		}
	}
}

// reconcileOrder re-queries an order left in flight across a restart.
func (e *Engine) reconcileOrder(ctx context.Context, p *Position) {
	status, err := e.exec.Status(ctx, p.OrderID)
	if err != nil {
		e.logEvent("warn", "reconcile_failed", p.Code,
			fmt.Sprintf("order %s status unavailable: %v", p.OrderID, err))
		return
	}
	e.logEvent("info", "reconcile", p.Code,
		fmt.Sprintf("order %s: %d/%d filled", p.OrderID, status.FilledQty, status.OrderQty))
	switch p.State {
	case PosEntryPending:
		if status.Filled() {
			e.applyEntryFill(p, status)
		}
	case PosExitPending:
		if status.Filled() {
			e.applyExitFill(p, status)
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdManualBuy:
		return e.manualBuy(ctx, cmd.code, cmd.qty)
	case cmdManualSell:
		return e.manualSell(ctx, cmd.code, cmd.qty)
	case cmdUpdateConfig:
		return e.applyConfig(cmd.cfg)
	case cmdRefresh:
		return e.refresh(ctx)
	default:
		return fmt.Errorf("engine: unknown command %d", cmd.kind)
	}
}

func (e *Engine) applyConfig(cfg config.StrategyConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	clk, err := ClockFromConfig(cfg)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.clk = clk
	e.exec.SetConfig(cfg)
	e.riskMgr.UpdateConfig(cfg)
	e.logEvent("info", "config_updated", "", "strategy config updated")
	return nil
}

// tick is one scheduler cycle. Phase is recomputed from scratch every time.
func (e *Engine) tick(ctx context.Context, now time.Time) {
	date := now.Format("2006-01-02")
	if e.st.TradingDate != date {
		e.rollover(date)
	}

	phase := DeterminePhase(now, e.cal.IsTradingDay(now), e.clk)
	if phase != e.st.Phase {
		e.transition(ctx, e.st.Phase, phase, now)
	}

	switch phase {
	case PhaseEntryWindow:
		e.evaluateEntries(ctx, now)
		e.checkPendingOrders(ctx, now)
	case PhaseMonitoring:
		e.evaluateExits(ctx, now)
		e.checkPendingOrders(ctx, now)
	case PhaseEODClosing:
		e.forceExits(ctx)
		e.checkPendingOrders(ctx, now)
	}
}

// rollover starts a fresh day. Trades already live in the ledger, so the
// in-memory state is simply replaced.
func (e *Engine) rollover(date string) {
	logger.Infof("engine[%s]: day rollover %s -> %s", e.mode, e.st.TradingDate, date)
	e.st = newState(e.mode, date)
	e.entryAllowed = true
}

func (e *Engine) transition(ctx context.Context, from, to Phase, now time.Time) {
	e.st.Phase = to
	e.logEvent("info", "phase", "", fmt.Sprintf("%s -> %s", from, to))

	// Window closure cancels every still-pending entry unconditionally,
	// regardless of which phase comes next.
	if from == PhaseEntryWindow {
		e.cancelPendingEntries(ctx)
	}

	switch to {
	case PhasePreparing:
		e.prepare(ctx, now)
	case PhaseEntryWindow, PhaseMonitoring:
		// A mid-day start jumps straight past PREPARING; prepare anyway so
		// balance and universe are loaded before anything trades.
		if from == PhaseIdle {
			e.prepare(ctx, now)
		}
	case PhaseEODClosing:
		e.forceExits(ctx)
	case PhaseClosed:
		for _, p := range e.st.Positions {
			if !p.State.Terminal() {
				e.logEvent("warn", "not_terminal", p.Code,
					fmt.Sprintf("position still %s at close", p.State))
			}
		}
		e.notifier.Send("장 마감", e.daySummary(), "checkered_flag")
	}
}

// prepare refreshes the broker session, seeds risk tracking and loads the
// day's universe into WATCHING positions.
func (e *Engine) prepare(ctx context.Context, now time.Time) {
	bal, err := e.broker.GetBalance(ctx)
	if err != nil {
		e.logEvent("error", "prepare_balance", "", err.Error())
	} else {
		e.st.TotalAsset = bal.TotalAsset
		e.st.AvailableCash = bal.AvailableCash
	}
	e.riskMgr.StartDay(e.st.TradingDate, e.st.TotalAsset)

	recs, err := e.universe.Load(ctx, e.mode, now)
	if err != nil {
		e.logEvent("error", "universe_load", "", err.Error())
		return
	}
	e.st.EntryOrder = e.st.EntryOrder[:0]
	for _, rec := range recs {
		// ListUniverse returns market cap descending; that rank decides who
		// gets the remaining capacity when several instruments confirm at
		// once.
		e.st.EntryOrder = append(e.st.EntryOrder, rec.Code)
		if _, ok := e.st.Positions[rec.Code]; ok {
			continue
		}
		e.st.Positions[rec.Code] = &Position{
			Code:      rec.Code,
			Name:      rec.Name,
			State:     PosWatching,
			PrevClose: rec.PrevClose,
		}
	}
	e.logEvent("info", "prepared", "",
		fmt.Sprintf("universe %d instruments, total asset %.0f", len(recs), e.st.TotalAsset))

	e.entryAllowed = true
	if e.marketCfg.FilterEnabled && e.market != nil {
		prev := e.cal.PrevTradingDay(now).Format("2006-01-02")
		ok, err := e.market.IndexAboveMA(ctx, e.marketCfg.IndexCode, prev, e.marketCfg.MADays)
		if err != nil {
			e.logEvent("warn", "market_filter", "", err.Error())
		} else if !ok {
			e.entryAllowed = false
			e.logEvent("warn", "market_filter", "",
				fmt.Sprintf("index %s below MA%d, entries disabled", e.marketCfg.IndexCode, e.marketCfg.MADays))
		}
	}
}

// evaluateEntries runs the gap signal over every WATCHING position, in
// universe rank order so a short capacity budget goes to the top of the
// rank, not to whatever map iteration yields.
func (e *Engine) evaluateEntries(ctx context.Context, now time.Time) {
	if !e.entryAllowed {
		return
	}
	for _, code := range e.st.EntryOrder {
		p, ok := e.st.Positions[code]
		if !ok || p.State != PosWatching {
			continue
		}
		quote, err := e.broker.GetQuote(ctx, p.Code)
		if err != nil {
			// Stale or failed quote skips this tick, never acts.
			continue
		}
		p.markPrice(quote.Price)

		switch evaluateEntry(p, quote.Price, e.cfg) {
		case entrySkipChase:
			p.State = PosSkipped
			p.ErrorMessage = "price beyond max rise rate"
			e.logEvent("info", "entry_skip_chase", p.Code,
				fmt.Sprintf("%.0f >= %.0f", quote.Price, p.PrevClose*(1+e.cfg.MaxRiseRate/100)))
		case entryTrigger:
			e.submitEntry(ctx, p, quote, now)
		}
	}
}

func (e *Engine) submitEntry(ctx context.Context, p *Position, quote broker.Quote, now time.Time) {
	if err := e.riskMgr.CanEnter(e.st.activePositions()); err != nil {
		p.State = PosSkipped
		p.ErrorMessage = err.Error()
		e.logEvent("info", "entry_skip_risk", p.Code, err.Error())
		return
	}
	price := e.exec.EntryPrice(quote)
	qty := e.exec.Quantity(e.st.TotalAsset, price)
	if qty <= 0 {
		p.State = PosSkipped
		p.ErrorMessage = "sized to zero quantity"
		e.logEvent("info", "entry_skip_size", p.Code, fmt.Sprintf("price %.0f", price))
		return
	}

	ack, err := e.exec.SubmitEntry(ctx, p.Code, qty, price)
	if err != nil {
		p.RetryCount++
		p.State = PosError
		p.ErrorMessage = err.Error()
		e.logEvent("error", "entry_failed", p.Code, err.Error())
		return
	}
	p.State = PosEntryPending
	p.OrderID = ack.OrderID
	p.OrderTime = now
	p.PendingQuantity = qty
	p.LimitOrderPrice = price
	e.logEvent("info", "entry_submitted", p.Code,
		fmt.Sprintf("buy %d @ %.0f (order %s)", qty, price, ack.OrderID))
}

// evaluateExits runs the exit conditions over every ENTERED position.
func (e *Engine) evaluateExits(ctx context.Context, now time.Time) {
	for _, p := range e.st.Positions {
		if p.State != PosEntered {
			continue
		}
		quote, err := e.broker.GetQuote(ctx, p.Code)
		if err != nil {
			continue
		}
		p.markPrice(quote.Price)

		if reason, ok := evaluateExit(p, e.cfg); ok {
			e.submitExit(ctx, p, reason)
		}
	}
}

// forceExits is the EOD override: every ENTERED position exits now,
// independent of the configured condition ordering.
func (e *Engine) forceExits(ctx context.Context) {
	for _, p := range e.st.Positions {
		if p.State == PosEntered {
			e.submitExit(ctx, p, exitReasonEOD)
		}
	}
}

func (e *Engine) submitExit(ctx context.Context, p *Position, reason string) {
	ack, err := e.exec.SubmitExit(ctx, p.Code, p.Quantity)
	if err != nil {
		p.RetryCount++
		if !broker.IsTransient(err) && !broker.IsAmbiguous(err) {
			p.State = PosError
		}
		p.ErrorMessage = err.Error()
		e.logEvent("error", "exit_failed", p.Code, err.Error())
		return
	}
	p.State = PosExitPending
	p.OrderID = ack.OrderID
	p.OrderTime = e.now()
	p.ExitReason = reason
	e.logEvent("info", "exit_submitted", p.Code,
		fmt.Sprintf("sell %d (%s, order %s)", p.Quantity, reason, ack.OrderID))
}

// checkPendingOrders polls in-flight orders: fills complete the transition,
// entry timeouts cancel and resolve the cancel-vs-fill race.
func (e *Engine) checkPendingOrders(ctx context.Context, now time.Time) {
	for _, p := range e.st.Positions {
		switch p.State {
		case PosEntryPending:
			e.checkEntryPending(ctx, p, now)
		case PosExitPending:
			e.checkExitPending(ctx, p)
		}
	}
}

func (e *Engine) checkEntryPending(ctx context.Context, p *Position, now time.Time) {
	status, err := e.exec.Status(ctx, p.OrderID)
	if err == nil && status.Filled() {
		e.applyEntryFill(p, status)
		return
	}
	timeout := time.Duration(e.cfg.PendingFillTimeoutSec) * time.Second
	if timeout <= 0 || now.Sub(p.OrderTime) < timeout {
		return
	}
	e.logEvent("warn", "entry_timeout", p.Code,
		fmt.Sprintf("order %s unfilled after %s", p.OrderID, timeout))
	e.cancelEntry(ctx, p)
}

// cancelEntry cancels a pending entry and settles the outcome. A refused
// cancel whose status shows a fill is a fill; any nonzero partial fill keeps
// the position with the filled quantity.
func (e *Engine) cancelEntry(ctx context.Context, p *Position) {
	res, err := e.exec.Cancel(ctx, p.OrderID, p.Code, p.PendingQuantity)
	if err != nil {
		p.State = PosError
		p.ErrorMessage = err.Error()
		e.logEvent("error", "cancel_failed", p.Code, err.Error())
		return
	}
	if res.HasStatus && res.Status.FilledQty > 0 {
		e.applyEntryFill(p, res.Status)
		e.logEvent("info", "entry_partial", p.Code,
			fmt.Sprintf("%d/%d filled before cancel", res.Status.FilledQty, res.Status.OrderQty))
		return
	}
	p.State = PosSkipped
	p.PendingQuantity = 0
	p.ErrorMessage = "entry cancelled unfilled"
	e.logEvent("info", "entry_cancelled", p.Code, "no fill")
}

// cancelPendingEntries runs at entry-window close: no entry order survives
// the window.
func (e *Engine) cancelPendingEntries(ctx context.Context) {
	for _, p := range e.st.Positions {
		if p.State == PosEntryPending {
			e.logEvent("info", "window_close_cancel", p.Code, "entry window closed")
			e.cancelEntry(ctx, p)
		}
	}
}

// applyEntryFill transitions to ENTERED with the filled quantity and price.
func (e *Engine) applyEntryFill(p *Position, status broker.OrderStatus) {
	p.State = PosEntered
	p.Quantity = status.FilledQty
	p.PendingQuantity = 0
	p.EntryPrice = status.AvgFillPrice
	p.EntryTime = e.now()
	p.HighWaterMark = status.AvgFillPrice
	p.markPrice(p.CurrentPrice)
	e.logEvent("info", "entered", p.Code,
		fmt.Sprintf("%d @ %.0f", p.Quantity, p.EntryPrice))
	e.recordTrade(p, broker.Buy, p.Quantity, p.EntryPrice, "")
	e.notifier.Send("매수 체결",
		fmt.Sprintf("%s(%s) %d주 @ %.0f원", p.Name, p.Code, p.Quantity, p.EntryPrice), "chart_with_upwards_trend")
}

func (e *Engine) checkExitPending(ctx context.Context, p *Position) {
	status, err := e.exec.Status(ctx, p.OrderID)
	if err != nil || !status.Filled() {
		return
	}
	e.applyExitFill(p, status)
}

// applyExitFill closes the position, realizes pnl and updates the breaker.
func (e *Engine) applyExitFill(p *Position, status broker.OrderStatus) {
	exitPrice := status.AvgFillPrice
	pnl := (exitPrice - p.EntryPrice) * float64(status.FilledQty)
	pnlRate := 0.0
	if p.EntryPrice > 0 {
		pnlRate = (exitPrice - p.EntryPrice) / p.EntryPrice * 100
	}

	p.State = PosClosed
	p.Quantity = 0
	p.ExitTime = e.now()
	p.CurrentPrice = exitPrice
	p.UnrealizedPnl = 0
	p.UnrealizedPnlRate = 0

	e.riskMgr.RecordPnl(pnl)
	e.st.DailyPnl, e.st.DailyPnlRate = e.riskMgr.DailyPnl()
	e.st.TotalTrades++
	if pnl >= 0 {
		e.st.WinningTrades++
	} else {
		e.st.LosingTrades++
	}

	e.logEvent("info", "closed", p.Code,
		fmt.Sprintf("%s pnl %.0f (%.2f%%)", p.ExitReason, pnl, pnlRate))
	e.recordTradeExit(p, status.FilledQty, exitPrice, pnl, pnlRate)
	e.notifier.Send("매도 체결",
		fmt.Sprintf("%s(%s) %d주 @ %.0f원, 손익 %.0f원 (%.2f%%)",
			p.Name, p.Code, status.FilledQty, exitPrice, pnl, pnlRate), "money_with_wings")
	if e.riskMgr.BreakerTripped() {
		e.notifier.Send("일일 손실 한도 도달",
			fmt.Sprintf("당일 손익 %.2f%%, 신규 진입 중단", e.st.DailyPnlRate), "rotating_light")
	}
}

func (e *Engine) recordTrade(p *Position, side broker.Side, qty int, price float64, reason string) {
	rec := store.TradeRecord{
		Mode:       e.mode,
		TradeDate:  e.st.TradingDate,
		Code:       p.Code,
		Name:       p.Name,
		Side:       string(side),
		Quantity:   qty,
		Price:      price,
		Amount:     price * float64(qty),
		ExitReason: reason,
	}
	if err := e.store.AppendTrade(context.Background(), rec); err != nil {
		logger.Errorf("engine[%s]: trade ledger: %v", e.mode, err)
	}
}

func (e *Engine) recordTradeExit(p *Position, qty int, price, pnl, pnlRate float64) {
	rec := store.TradeRecord{
		Mode:       e.mode,
		TradeDate:  e.st.TradingDate,
		Code:       p.Code,
		Name:       p.Name,
		Side:       string(broker.Sell),
		Quantity:   qty,
		Price:      price,
		Amount:     price * float64(qty),
		ExitReason: p.ExitReason,
		Pnl:        pnl,
		PnlRate:    pnlRate,
	}
	if err := e.store.AppendTrade(context.Background(), rec); err != nil {
		logger.Errorf("engine[%s]: trade ledger: %v", e.mode, err)
	}
}

func (e *Engine) manualBuy(ctx context.Context, code string, qty int) error {
	p, ok := e.st.Positions[code]
	if !ok {
		p = &Position{Code: code, State: PosWatching}
	}
	if p.State == PosEntryPending || p.State == PosEntered || p.State == PosExitPending {
		return broker.Faultf(broker.FaultValidation, "manual_buy", "%s already %s", code, p.State)
	}
	quote, err := e.broker.GetQuote(ctx, code)
	if err != nil {
		return err
	}
	p.markPrice(quote.Price)
	if p.PrevClose == 0 {
		p.PrevClose = quote.PrevClose
	}
	if err := e.riskMgr.CanEnter(e.st.activePositions()); err != nil {
		return err
	}
	price := e.exec.EntryPrice(quote)
	if qty <= 0 {
		qty = e.exec.Quantity(e.st.TotalAsset, price)
	}
	if qty <= 0 {
		return broker.Faultf(broker.FaultValidation, "manual_buy", "sized to zero quantity")
	}
	ack, err := e.exec.SubmitEntry(ctx, code, qty, price)
	if err != nil {
		return err
	}
	p.State = PosEntryPending
	p.OrderID = ack.OrderID
	p.OrderTime = e.now()
	p.PendingQuantity = qty
	p.LimitOrderPrice = price
	e.st.Positions[code] = p
	e.logEvent("info", "manual_buy", code, fmt.Sprintf("buy %d @ %.0f", qty, price))
	return nil
}

func (e *Engine) manualSell(ctx context.Context, code string, qty int) error {
	p, ok := e.st.Positions[code]
	if !ok || p.State != PosEntered {
		return broker.Faultf(broker.FaultValidation, "manual_sell", "%s not entered", code)
	}
	if qty <= 0 || qty > p.Quantity {
		qty = p.Quantity
	}
	ack, err := e.exec.SubmitExit(ctx, code, qty)
	if err != nil {
		return err
	}
	p.State = PosExitPending
	p.OrderID = ack.OrderID
	p.OrderTime = e.now()
	p.ExitReason = exitReasonManual
	e.logEvent("info", "manual_sell", code, fmt.Sprintf("sell %d (order %s)", qty, ack.OrderID))
	return nil
}

// refresh reconciles balance and held quantities against the broker.
func (e *Engine) refresh(ctx context.Context) error {
	bal, err := e.broker.GetBalance(ctx)
	if err != nil {
		return err
	}
	e.st.TotalAsset = bal.TotalAsset
	e.st.AvailableCash = bal.AvailableCash
	for code, p := range e.st.Positions {
		if p.State != PosEntered {
			continue
		}
		h, ok := bal.Holdings[code]
		if !ok {
			e.logEvent("warn", "refresh_missing", code, "entered but not held at broker")
			continue
		}
		p.Quantity = h.Quantity
		p.markPrice(h.CurrentPrice)
	}
	e.logEvent("info", "refreshed", "", fmt.Sprintf("total asset %.0f", bal.TotalAsset))
	return nil
}

func (e *Engine) daySummary() string {
	return fmt.Sprintf("거래 %d건 (승 %d / 패 %d), 손익 %.0f원 (%.2f%%)",
		e.st.TotalTrades, e.st.WinningTrades, e.st.LosingTrades, e.st.DailyPnl, e.st.DailyPnlRate)
}

// logEvent writes one event to the process log, the in-memory ring and the
// durable event table.
func (e *Engine) logEvent(level, event, code, msg string) {
	switch level {
	case "error":
		logger.Errorf("engine[%s]: %s %s %s", e.mode, event, code, msg)
	case "warn":
		logger.Warnf("engine[%s]: %s %s %s", e.mode, event, code, msg)
	default:
		logger.Infof("engine[%s]: %s %s %s", e.mode, event, code, msg)
	}
	e.st.appendLog(LogEntry{At: e.now(), Level: level, Event: event, Code: code, Message: msg})
	if e.store != nil {
		rec := store.EventRecord{
			Mode:    e.mode,
			Date:    e.st.TradingDate,
			Level:   level,
			Phase:   string(e.st.Phase),
			Code:    code,
			Event:   event,
			Message: msg,
		}
		if err := e.store.AppendEvent(context.Background(), rec); err != nil {
			logger.Debugf("engine[%s]: event log: %v", e.mode, err)
		}
	}
}
