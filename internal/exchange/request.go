package exchange

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequestKind tags the four request shapes a caller can submit.
type RequestKind int

const (
	NewLimit RequestKind = iota
	NewMarket
	Amend
	Cancel
)

func (k RequestKind) String() string {
	switch k {
	case NewLimit:
		return "new_limit"
	case NewMarket:
		return "new_market"
	case Amend:
		return "amend"
	case Cancel:
		return "cancel"
	}
	return "unknown"
}

// Request is an immutable command for the book, consumed exactly once
// by Process. Which fields are meaningful depends on Kind:
//
//	NewLimit:  OrderAsset, PriceAsset, Side, Price, Qty, Timestamp
//	NewMarket: OrderAsset, PriceAsset, Side, Qty, Timestamp
//	Amend:     ID, Side, Price, Qty, Timestamp
//	Cancel:    ID, Side
//
// Use the constructors below rather than filling the struct by hand.
type Request[A comparable] struct {
	Kind       RequestKind
	OrderAsset A
	PriceAsset A
	ID         uuid.UUID
	Side       Side
	Price      decimal.Decimal
	Qty        decimal.Decimal
	Timestamp  time.Time
}

// NewLimitOrder builds a request for a limit order that may rest.
func NewLimitOrder[A comparable](orderAsset, priceAsset A, side Side, price, qty decimal.Decimal, ts time.Time) Request[A] {
	return Request[A]{
		Kind:       NewLimit,
		OrderAsset: orderAsset,
		PriceAsset: priceAsset,
		Side:       side,
		Price:      price,
		Qty:        qty,
		Timestamp:  ts,
	}
}

// NewMarketOrder builds a request for a market order. Market orders
// carry no price and never rest.
func NewMarketOrder[A comparable](orderAsset, priceAsset A, side Side, qty decimal.Decimal, ts time.Time) Request[A] {
	return Request[A]{
		Kind:       NewMarket,
		OrderAsset: orderAsset,
		PriceAsset: priceAsset,
		Side:       side,
		Qty:        qty,
		Timestamp:  ts,
	}
}

// AmendOrder builds a request replacing the price and quantity of the
// resting order identified by (id, side).
func AmendOrder[A comparable](id uuid.UUID, side Side, price, qty decimal.Decimal, ts time.Time) Request[A] {
	return Request[A]{
		Kind:      Amend,
		ID:        id,
		Side:      side,
		Price:     price,
		Qty:       qty,
		Timestamp: ts,
	}
}

// CancelOrder builds a request removing the resting order identified
// by (id, side).
func CancelOrder[A comparable](id uuid.UUID, side Side) Request[A] {
	return Request[A]{
		Kind: Cancel,
		ID:   id,
		Side: side,
	}
}
