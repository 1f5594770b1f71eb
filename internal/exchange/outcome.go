package exchange

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OutcomeKind enumerates the per-request effects the book reports.
type OutcomeKind int

const (
	// Accepted means a limit order rested with remaining quantity.
	Accepted OutcomeKind = iota
	// Filled means an order's remaining quantity reached zero.
	Filled
	// PartiallyFilled means an order traded but has quantity remaining.
	PartiallyFilled
	// Amended means a resting order's price and quantity were replaced.
	Amended
	// Cancelled means a resting order was removed on request.
	Cancelled
	// Failed means the request was rejected; Reason says why.
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Filled:
		return "filled"
	case PartiallyFilled:
		return "partially_filled"
	case Amended:
		return "amended"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome is one effect of a processed request. A single request can
// yield several: an aggressor that sweeps two resting orders and then
// rests produces four fill outcomes and one Accepted. For fill
// outcomes Price and Qty are the trade price and trade quantity; for
// the others they are the order's own price and remaining quantity.
// Failed outcomes carry only Reason (and the target ID for amends and
// cancels).
type Outcome[A comparable] struct {
	Kind      OutcomeKind
	OrderID   uuid.UUID
	Side      Side
	Type      OrderType
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Timestamp time.Time
	Reason    string
}

func accepted[A comparable](o *Order[A]) Outcome[A] {
	return Outcome[A]{
		Kind:      Accepted,
		OrderID:   o.ID,
		Side:      o.Side,
		Type:      o.Type,
		Price:     o.Price,
		Qty:       o.Qty,
		Timestamp: o.Timestamp,
	}
}

// fill reports a trade against o. Filled when the order is fully
// consumed, PartiallyFilled otherwise.
func fill[A comparable](o *Order[A], price, qty decimal.Decimal, ts time.Time) Outcome[A] {
	kind := PartiallyFilled
	if o.Qty.IsZero() {
		kind = Filled
	}
	return Outcome[A]{
		Kind:      kind,
		OrderID:   o.ID,
		Side:      o.Side,
		Type:      o.Type,
		Price:     price,
		Qty:       qty,
		Timestamp: ts,
	}
}

func amended[A comparable](o *Order[A]) Outcome[A] {
	return Outcome[A]{
		Kind:      Amended,
		OrderID:   o.ID,
		Side:      o.Side,
		Type:      o.Type,
		Price:     o.Price,
		Qty:       o.Qty,
		Timestamp: o.Timestamp,
	}
}

func cancelled[A comparable](o *Order[A], ts time.Time) Outcome[A] {
	return Outcome[A]{
		Kind:      Cancelled,
		OrderID:   o.ID,
		Side:      o.Side,
		Type:      o.Type,
		Price:     o.Price,
		Qty:       o.Qty,
		Timestamp: ts,
	}
}

func failed[A comparable](req Request[A], reason string) Outcome[A] {
	return Outcome[A]{
		Kind:    Failed,
		OrderID: req.ID,
		Side:    req.Side,
		Reason:  reason,
	}
}
