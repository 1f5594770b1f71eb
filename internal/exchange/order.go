package exchange

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side int

const (
	// Bid is the buying side of the book.
	Bid Side = iota
	// Ask is the selling side of the book.
	Ask
)

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// ParseSide converts the wire representation ("bid"/"ask") of a side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "bid":
		return Bid, true
	case "ask":
		return Ask, true
	}
	return 0, false
}

// OrderType is the execution style of an order.
type OrderType int

const (
	// Limit orders rest on the book when not fully matched.
	Limit OrderType = iota
	// Market orders fill against available liquidity and never rest.
	Market
)

func (t OrderType) String() string {
	if t == Market {
		return "market"
	}
	return "limit"
}

// Order is a resting or aggressing unit of liquidity. Qty is the
// remaining quantity and decreases as the order fills; a resting order
// always has Qty > 0. Sequence is the book's monotonic arrival counter
// and breaks price ties (lower sequence matches first).
type Order[A comparable] struct {
	ID         uuid.UUID
	OrderAsset A
	PriceAsset A
	Side       Side
	Type       OrderType
	Price      decimal.Decimal
	Qty        decimal.Decimal
	Sequence   uint64
	Timestamp  time.Time
}
