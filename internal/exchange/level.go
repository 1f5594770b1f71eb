package exchange

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// priceLevel is a FIFO queue of resting orders at a single price.
// Earliest sequence sits at the front.
type priceLevel[A comparable] struct {
	price  decimal.Decimal
	orders []*Order[A]
}

func (l *priceLevel[A]) head() *Order[A] {
	return l.orders[0]
}

func (l *priceLevel[A]) popHead() {
	l.orders = l.orders[1:]
}

func (l *priceLevel[A]) empty() bool {
	return len(l.orders) == 0
}

func (l *priceLevel[A]) totalQty() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range l.orders {
		sum = sum.Add(o.Qty)
	}
	return sum
}

// bookSide keeps one side's levels sorted best-first: descending price
// for bids, ascending for asks. Lookup by price is a binary search;
// lookup by id goes through the index map.
type bookSide[A comparable] struct {
	side   Side
	levels []*priceLevel[A]
	byID   map[uuid.UUID]*Order[A]
}

func newBookSide[A comparable](side Side) *bookSide[A] {
	return &bookSide[A]{
		side: side,
		byID: make(map[uuid.UUID]*Order[A]),
	}
}

// search returns the position of price in the level array and whether
// a level at exactly that price exists. When absent, the position is
// where a new level should be inserted to keep best-first order.
func (s *bookSide[A]) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		c := s.levels[i].price.Cmp(price)
		if s.side == Bid {
			return c <= 0
		}
		return c >= 0
	})
	if i < len(s.levels) && s.levels[i].price.Equal(price) {
		return i, true
	}
	return i, false
}

// best returns the top-priority level, nil when the side is empty.
func (s *bookSide[A]) best() *priceLevel[A] {
	if len(s.levels) == 0 {
		return nil
	}
	return s.levels[0]
}

// insert appends o to its price level, creating the level if needed.
func (s *bookSide[A]) insert(o *Order[A]) {
	i, found := s.search(o.Price)
	if found {
		s.levels[i].orders = append(s.levels[i].orders, o)
	} else {
		lvl := &priceLevel[A]{price: o.Price, orders: []*Order[A]{o}}
		s.levels = append(s.levels, nil)
		copy(s.levels[i+1:], s.levels[i:])
		s.levels[i] = lvl
	}
	s.byID[o.ID] = o
}

// dropHead removes the fully filled front order of the best level and
// the level itself once drained.
func (s *bookSide[A]) dropHead() {
	lvl := s.levels[0]
	delete(s.byID, lvl.head().ID)
	lvl.popHead()
	if lvl.empty() {
		s.levels = append(s.levels[:0], s.levels[1:]...)
	}
}

// remove detaches the order with the given id from the side. It
// reports false when no such order rests here.
func (s *bookSide[A]) remove(id uuid.UUID) (*Order[A], bool) {
	o, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	i, found := s.search(o.Price)
	if !found {
		// The index and the level array disagree; resting state is
		// corrupted and continuing would desync the book.
		panic("exchange: order index out of sync with price levels")
	}
	lvl := s.levels[i]
	for j, cand := range lvl.orders {
		if cand.ID == id {
			lvl.orders = append(lvl.orders[:j], lvl.orders[j+1:]...)
			break
		}
	}
	if lvl.empty() {
		s.levels = append(s.levels[:i], s.levels[i+1:]...)
	}
	delete(s.byID, id)
	return o, true
}

func (s *bookSide[A]) orderCount() int {
	return len(s.byID)
}
