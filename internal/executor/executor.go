// Package executor turns entry and exit decisions into broker orders,
// handling pricing, sizing, retries and the cancel-vs-fill race.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mystocks/internal/broker"
	"mystocks/internal/config"
	"mystocks/internal/logger"
)

// Executor submits orders for one mode context.
type Executor struct {
	broker broker.Broker

	mu  sync.RWMutex
	cfg config.StrategyConfig
}

func New(b broker.Broker, cfg config.StrategyConfig) *Executor {
	return &Executor{broker: b, cfg: cfg}
}

// SetConfig swaps in new strategy parameters for subsequent orders.
func (e *Executor) SetConfig(cfg config.StrategyConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Executor) config() config.StrategyConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// EntryPrice computes the entry limit price: best ask biased upward by the
// configured number of ticks so the order executes immediately while the
// worst acceptable price stays bounded.
func (e *Executor) EntryPrice(quote broker.Quote) float64 {
	cfg := e.config()
	ask := quote.Ask
	if ask <= 0 {
		ask = quote.Price
	}
	return ask + float64(cfg.SlippageTicks)*TickSize(quote.Price)
}

// Quantity sizes a position from the session-start total asset, not
// instantaneous cash, so concurrent fills do not perturb sizing.
// floor(totalAsset * allocationPercent / maxPositions / price).
func (e *Executor) Quantity(totalAsset, orderPrice float64) int {
	cfg := e.config()
	if orderPrice <= 0 || cfg.MaxPositions <= 0 {
		return 0
	}
	amount := decimal.NewFromFloat(totalAsset).
		Mul(decimal.NewFromFloat(cfg.AllocationPercent)).
		Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(cfg.MaxPositions)))
	qty := amount.Div(decimal.NewFromFloat(orderPrice)).IntPart()
	if qty < 0 {
		return 0
	}
	return int(qty)
}

// SubmitEntry places a limit buy. Transient faults retry with backoff up to
// the configured count; every attempt carries a fresh client reference.
func (e *Executor) SubmitEntry(ctx context.Context, code string, quantity int, price float64) (broker.OrderAck, error) {
	if quantity <= 0 {
		return broker.OrderAck{}, broker.Faultf(broker.FaultValidation, "entry", "quantity %d", quantity)
	}
	return e.submit(ctx, broker.OrderRequest{
		Code:     code,
		Side:     broker.Buy,
		Quantity: quantity,
		Price:    price,
	})
}

// SubmitExit places a market sell for the full quantity. Exits favor speed
// over price.
func (e *Executor) SubmitExit(ctx context.Context, code string, quantity int) (broker.OrderAck, error) {
	if quantity <= 0 {
		return broker.OrderAck{}, broker.Faultf(broker.FaultValidation, "exit", "quantity %d", quantity)
	}
	return e.submit(ctx, broker.OrderRequest{
		Code:     code,
		Side:     broker.Sell,
		Quantity: quantity,
		Price:    0,
	})
}

func (e *Executor) submit(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	cfg := e.config()
	var lastErr error
	for attempt := 0; attempt <= cfg.OrderRetryCount; attempt++ {
		if attempt > 0 {
			delay := time.Duration(cfg.OrderRetryDelayMs) * time.Millisecond * time.Duration(attempt)
			logger.Warnf("executor: %s %s attempt %d retrying in %s: %v",
				req.Side, req.Code, attempt, delay, lastErr)
			select {
			case <-ctx.Done():
				return broker.OrderAck{}, ctx.Err()
			case <-time.After(delay):
			}
		}
		req.ClientRef = uuid.NewString()
		ack, err := e.broker.PlaceOrder(ctx, req)
		if err == nil {
			return ack, nil
		}
		lastErr = err
		if !broker.IsTransient(err) {
			return broker.OrderAck{}, err
		}
	}
	return broker.OrderAck{}, lastErr
}

// Status fetches the live fill state of orderID.
func (e *Executor) Status(ctx context.Context, orderID string) (broker.OrderStatus, error) {
	return e.broker.GetOrderStatus(ctx, orderID)
}

// CancelResult reports how a cancel attempt resolved.
type CancelResult struct {
	// Cancelled is true when the broker accepted the cancel.
	Cancelled bool
	// Status is the post-resolution fill state. Populated whenever it could
	// be fetched; callers must honor Status.FilledQty even when Cancelled.
	Status    broker.OrderStatus
	HasStatus bool
}

// Cancel cancels the remaining quantity of orderID and resolves the race
// against a concurrent fill. A broker refusal is never assumed to mean
// anything on its own: the order status is re-queried, and a filled order is
// reported as a fill.
func (e *Executor) Cancel(ctx context.Context, orderID, code string, quantity int) (CancelResult, error) {
	err := e.broker.CancelOrder(ctx, orderID, code, quantity)
	if err == nil {
		res := CancelResult{Cancelled: true}
		if st, serr := e.broker.GetOrderStatus(ctx, orderID); serr == nil {
			res.Status = st
			res.HasStatus = true
		}
		return res, nil
	}
	if !broker.IsAmbiguous(err) {
		return CancelResult{}, err
	}
	logger.Warnf("executor: cancel %s ambiguous, re-querying status: %v", orderID, err)
	st, serr := e.broker.GetOrderStatus(ctx, orderID)
	if serr != nil {
		return CancelResult{}, broker.NewFault(broker.FaultAmbiguous, "cancel", serr)
	}
	return CancelResult{Cancelled: false, Status: st, HasStatus: true}, nil
}
