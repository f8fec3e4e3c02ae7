// Package broker defines the brokerage abstraction the engine trades through.
// Implementations live in subpackages (kis for Korea Investment & Securities).
package broker

import (
	"context"
	"time"
)

// Side distinguishes buy and sell orders.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Broker abstracts quote lookup, balance inquiry and order management.
// All calls are blocking and timeout-bounded by the implementation.
type Broker interface {
	Name() string

	GetQuote(ctx context.Context, code string) (Quote, error)

	GetBalance(ctx context.Context) (Balance, error)

	// PlaceOrder submits an order. Price 0 means market, otherwise limit.
	// ClientRef must be unique per submission attempt so a retried request
	// can never be mistaken for a new one.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)

	CancelOrder(ctx context.Context, orderID, code string, quantity int) error
}

// Quote is a live snapshot for one instrument. Prices are in won.
type Quote struct {
	Code       string
	Price      float64
	Open       float64
	High       float64
	Low        float64
	PrevClose  float64
	ChangeRate float64
	Volume     int64
	Ask        float64
	Bid        float64
	// MarketCap is in eokwon (hundreds of millions), the unit KIS reports.
	MarketCap float64
}

// Balance is the account snapshot used for position sizing and pnl baselines.
type Balance struct {
	TotalAsset    float64
	AvailableCash float64
	Holdings      map[string]Holding
}

// Holding is one instrument held at the brokerage.
type Holding struct {
	Name         string
	Quantity     int
	AvgPrice     float64
	CurrentPrice float64
	Pnl          float64
	PnlRate      float64
}

// OrderRequest describes a cash order.
type OrderRequest struct {
	Code      string
	Side      Side
	Quantity  int
	Price     float64 // 0 = market
	ClientRef string
}

// OrderAck is the broker's acceptance of an order.
type OrderAck struct {
	OrderID string
	At      time.Time
}

// OrderStatus reports fill progress for a resting or completed order.
type OrderStatus struct {
	OrderID      string
	Code         string
	OrderQty     int
	FilledQty    int
	RemainingQty int
	AvgFillPrice float64
}

// Filled reports whether the order is completely executed.
func (s OrderStatus) Filled() bool {
	return s.OrderQty > 0 && s.RemainingQty == 0
}
