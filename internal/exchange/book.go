package exchange

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Book is the matching engine for a single asset pair. Bids and asks
// are kept in price-time priority and matched at the resting order's
// price. A Book is not safe for concurrent use: callers serialize
// access, one lock per pair.
//
// Invariants held between calls: no resting order has Qty <= 0, no two
// resting orders on a side share an id, and the best bid is strictly
// below the best ask whenever both sides are non-empty.
type Book[A comparable] struct {
	orderAsset A
	priceAsset A

	bids *bookSide[A]
	asks *bookSide[A]

	seq uint64
	now func() time.Time
}

// New creates a book for the given pair. The pair is fixed for the
// book's lifetime.
func New[A comparable](orderAsset, priceAsset A) *Book[A] {
	return &Book[A]{
		orderAsset: orderAsset,
		priceAsset: priceAsset,
		bids:       newBookSide[A](Bid),
		asks:       newBookSide[A](Ask),
		now:        time.Now,
	}
}

// Pair returns the configured asset pair.
func (b *Book[A]) Pair() (orderAsset, priceAsset A) {
	return b.orderAsset, b.priceAsset
}

// Process validates and executes one request, returning its outcomes
// in the order they occurred. A rejected request has no side effects,
// and requests are independent: a failure never disturbs the book or
// later requests.
func (b *Book[A]) Process(req Request[A]) []Outcome[A] {
	if reason := Validate(req, b.orderAsset, b.priceAsset); reason != "" {
		return []Outcome[A]{failed(req, reason)}
	}

	switch req.Kind {
	case NewLimit, NewMarket:
		return b.processNew(req)
	case Amend:
		return b.processAmend(req)
	case Cancel:
		return b.processCancel(req)
	}
	return []Outcome[A]{failed(req, ReasonBadID)}
}

// processNew matches an incoming order against the opposite side and
// rests any limit remainder. The unfilled remainder of a market order
// is discarded, never rested and never rejected.
func (b *Book[A]) processNew(req Request[A]) []Outcome[A] {
	o := &Order[A]{
		ID:         uuid.New(),
		OrderAsset: req.OrderAsset,
		PriceAsset: req.PriceAsset,
		Side:       req.Side,
		Type:       Limit,
		Price:      req.Price,
		Qty:        req.Qty,
		Timestamp:  req.Timestamp,
	}
	if req.Kind == NewMarket {
		o.Type = Market
	}
	return b.matchAndRest(o, nil, true)
}

// matchAndRest runs the matching loop for an aggressor and, for limit
// orders with remaining quantity, rests it with a fresh sequence
// number. Outcomes are appended to pre, which lets amendments emit
// their Amended record ahead of any fills. announceRest controls
// whether resting adds an Accepted outcome: fresh limit orders
// announce, a re-rested amendment does not since its Amended outcome
// already carries the new price and quantity.
func (b *Book[A]) matchAndRest(o *Order[A], pre []Outcome[A], announceRest bool) []Outcome[A] {
	out := pre
	opp := b.sideFor(o.Side.Opposite())

	for o.Qty.IsPositive() {
		lvl := opp.best()
		if lvl == nil {
			break
		}
		if o.Type == Limit && !crosses(o.Side, o.Price, lvl.price) {
			break
		}

		maker := lvl.head()
		traded := decimal.Min(o.Qty, maker.Qty)
		maker.Qty = maker.Qty.Sub(traded)
		o.Qty = o.Qty.Sub(traded)

		// Resting order first, then the aggressor; the trade executes
		// at the resting price.
		out = append(out,
			fill(maker, lvl.price, traded, o.Timestamp),
			fill(o, lvl.price, traded, o.Timestamp),
		)

		if maker.Qty.IsZero() {
			opp.dropHead()
		}
	}

	if o.Qty.IsPositive() && o.Type == Limit {
		b.seq++
		o.Sequence = b.seq
		b.sideFor(o.Side).insert(o)
		if announceRest {
			out = append(out, accepted(o))
		}
	}
	return out
}

// processAmend replaces the price and quantity of a resting order.
// The order always loses time priority: it is pulled from the book,
// rewritten, and pushed back through the matching loop like a fresh
// aggressor so the new price can never leave the book crossed.
func (b *Book[A]) processAmend(req Request[A]) []Outcome[A] {
	o, ok := b.sideFor(req.Side).remove(req.ID)
	if !ok {
		return []Outcome[A]{failed(req, ReasonOrderNotFound)}
	}

	o.Price = req.Price
	o.Qty = req.Qty
	o.Timestamp = req.Timestamp

	return b.matchAndRest(o, []Outcome[A]{amended(o)}, false)
}

func (b *Book[A]) processCancel(req Request[A]) []Outcome[A] {
	o, ok := b.sideFor(req.Side).remove(req.ID)
	if !ok {
		return []Outcome[A]{failed(req, ReasonOrderNotFound)}
	}
	return []Outcome[A]{cancelled(o, b.now())}
}

// Spread returns the best resting bid and ask prices. ok is false when
// either side is empty. Read-only.
func (b *Book[A]) Spread() (bid, ask decimal.Decimal, ok bool) {
	bb := b.bids.best()
	ba := b.asks.best()
	if bb == nil || ba == nil {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	return bb.price, ba.price, true
}

// Resting looks up a resting order by (id, side) and returns a copy.
func (b *Book[A]) Resting(id uuid.UUID, side Side) (Order[A], bool) {
	o, ok := b.sideFor(side).byID[id]
	if !ok {
		return Order[A]{}, false
	}
	return *o, true
}

// LevelDepth is the aggregate of one price level.
type LevelDepth struct {
	Price  decimal.Decimal `json:"price"`
	Qty    decimal.Decimal `json:"quantity"`
	Orders int             `json:"orders"`
}

// BookDepth is a point-in-time aggregate view of both sides, levels
// ordered best-first.
type BookDepth struct {
	Bids []LevelDepth `json:"bids"`
	Asks []LevelDepth `json:"asks"`
}

// Depth aggregates the resting book per price level. Read-only.
func (b *Book[A]) Depth() BookDepth {
	collect := func(s *bookSide[A]) []LevelDepth {
		out := make([]LevelDepth, 0, len(s.levels))
		for _, lvl := range s.levels {
			out = append(out, LevelDepth{
				Price:  lvl.price,
				Qty:    lvl.totalQty(),
				Orders: len(lvl.orders),
			})
		}
		return out
	}
	return BookDepth{Bids: collect(b.bids), Asks: collect(b.asks)}
}

// OrderCount returns the number of resting orders on both sides.
func (b *Book[A]) OrderCount() int {
	return b.bids.orderCount() + b.asks.orderCount()
}

// Restore inserts a resting order without matching. It exists for
// boot-time recovery of open orders from durable storage; callers
// supply orders in their original arrival order. Restoring an order
// that would cross the book, duplicate an id, or break a resting
// invariant is an error and leaves the book unchanged.
func (b *Book[A]) Restore(o Order[A]) error {
	if o.ID == uuid.Nil {
		return fmt.Errorf("restore: nil order id")
	}
	if !o.Qty.IsPositive() || !o.Price.IsPositive() {
		return fmt.Errorf("restore order %s: price and quantity must be positive", o.ID)
	}
	if o.Type != Limit {
		return fmt.Errorf("restore order %s: only limit orders rest", o.ID)
	}
	if o.OrderAsset != b.orderAsset || o.PriceAsset != b.priceAsset {
		return fmt.Errorf("restore order %s: asset pair mismatch", o.ID)
	}
	if _, ok := b.sideFor(o.Side).byID[o.ID]; ok {
		return fmt.Errorf("restore order %s: duplicate id", o.ID)
	}
	if best := b.sideFor(o.Side.Opposite()).best(); best != nil && crosses(o.Side, o.Price, best.price) {
		return fmt.Errorf("restore order %s: would cross the book", o.ID)
	}

	b.seq++
	o.Sequence = b.seq
	b.sideFor(o.Side).insert(&o)
	return nil
}

func (b *Book[A]) sideFor(s Side) *bookSide[A] {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

// crosses reports whether a limit price trades against a resting
// price on the opposite side.
func crosses(side Side, limit, resting decimal.Decimal) bool {
	if side == Bid {
		return limit.GreaterThanOrEqual(resting)
	}
	return limit.LessThanOrEqual(resting)
}
