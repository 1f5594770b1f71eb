package exchange

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testBook() *Book[string] {
	return New("BTC", "USD")
}

// placeLimit submits a limit order and returns the id it rested under.
func placeLimit(t *testing.T, b *Book[string], side Side, price, qty string) uuid.UUID {
	t.Helper()
	outs := b.Process(NewLimitOrder("BTC", "USD", side, dec(price), dec(qty), time.Now()))
	for _, out := range outs {
		if out.Kind == Accepted {
			return out.OrderID
		}
	}
	t.Fatalf("expected order to rest, got %v", outs)
	return uuid.Nil
}

func kinds(outs []Outcome[string]) []OutcomeKind {
	ks := make([]OutcomeKind, len(outs))
	for i, out := range outs {
		ks[i] = out.Kind
	}
	return ks
}

func TestBook_RestWithoutCross(t *testing.T) {
	b := testBook()

	outs := b.Process(NewLimitOrder("BTC", "USD", Bid, dec("0.98"), dec("5.0"), time.Now()))
	if len(outs) != 1 || outs[0].Kind != Accepted {
		t.Fatalf("expected single Accepted, got %v", kinds(outs))
	}

	outs = b.Process(NewLimitOrder("BTC", "USD", Ask, dec("1.02"), dec("1.0"), time.Now()))
	if len(outs) != 1 || outs[0].Kind != Accepted {
		t.Fatalf("expected single Accepted, got %v", kinds(outs))
	}

	bid, ask, ok := b.Spread()
	if !ok {
		t.Fatal("expected a spread with both sides resting")
	}
	if !bid.Equal(dec("0.98")) || !ask.Equal(dec("1.02")) {
		t.Errorf("expected spread (0.98, 1.02), got (%s, %s)", bid, ask)
	}
}

func TestBook_BidBelowAskRests(t *testing.T) {
	b := testBook()
	placeLimit(t, b, Ask, "1.02", "1.0")

	outs := b.Process(NewLimitOrder("BTC", "USD", Bid, dec("1.01"), dec("0.4"), time.Now()))
	if len(outs) != 1 || outs[0].Kind != Accepted {
		t.Fatalf("expected no fill at 1.01 against ask 1.02, got %v", kinds(outs))
	}
	if b.OrderCount() != 2 {
		t.Errorf("expected 2 resting orders, got %d", b.OrderCount())
	}
}

func TestBook_PartialFillAtRestingPrice(t *testing.T) {
	b := testBook()
	askID := placeLimit(t, b, Ask, "1.02", "1.0")

	outs := b.Process(NewLimitOrder("BTC", "USD", Bid, dec("1.03"), dec("0.5"), time.Now()))

	if len(outs) != 2 {
		t.Fatalf("expected 2 outcomes, got %v", kinds(outs))
	}
	// Resting order first, aggressor second.
	if outs[0].Kind != PartiallyFilled || outs[0].OrderID != askID {
		t.Errorf("expected PartiallyFilled for resting ask, got %v for %s", outs[0].Kind, outs[0].OrderID)
	}
	if outs[1].Kind != Filled || outs[1].Side != Bid {
		t.Errorf("expected Filled for aggressing bid, got %v", outs[1].Kind)
	}
	for _, out := range outs {
		if !out.Price.Equal(dec("1.02")) {
			t.Errorf("expected trade at resting price 1.02, got %s", out.Price)
		}
		if !out.Qty.Equal(dec("0.5")) {
			t.Errorf("expected trade qty 0.5, got %s", out.Qty)
		}
	}

	// The ask keeps resting with the remainder.
	rest, ok := b.Resting(askID, Ask)
	if !ok {
		t.Fatal("expected ask to remain resting")
	}
	if !rest.Qty.Equal(dec("0.5")) {
		t.Errorf("expected remaining qty 0.5, got %s", rest.Qty)
	}
}

func TestBook_RemainderRests(t *testing.T) {
	b := testBook()
	placeLimit(t, b, Ask, "1.02", "1.0")

	outs := b.Process(NewLimitOrder("BTC", "USD", Bid, dec("1.03"), dec("1.5"), time.Now()))

	if len(outs) != 3 {
		t.Fatalf("expected 3 outcomes, got %v", kinds(outs))
	}
	if outs[0].Kind != Filled || outs[0].Side != Ask {
		t.Errorf("expected resting ask Filled, got %v", outs[0].Kind)
	}
	if outs[1].Kind != PartiallyFilled || outs[1].Side != Bid {
		t.Errorf("expected aggressor PartiallyFilled, got %v", outs[1].Kind)
	}
	if outs[2].Kind != Accepted {
		t.Fatalf("expected remainder Accepted, got %v", outs[2].Kind)
	}
	if !outs[2].Qty.Equal(dec("0.5")) || !outs[2].Price.Equal(dec("1.03")) {
		t.Errorf("expected remainder 0.5 @ 1.03, got %s @ %s", outs[2].Qty, outs[2].Price)
	}

	bid, _, ok := b.Spread()
	if ok {
		t.Fatalf("expected empty ask side, got best ask with bid %s", bid)
	}
}

func TestBook_PriceTimePriority(t *testing.T) {
	b := testBook()
	first := placeLimit(t, b, Ask, "1.02", "0.3")
	second := placeLimit(t, b, Ask, "1.02", "0.3")

	outs := b.Process(NewLimitOrder("BTC", "USD", Bid, dec("1.02"), dec("0.3"), time.Now()))
	if len(outs) != 2 {
		t.Fatalf("expected 2 outcomes, got %v", kinds(outs))
	}
	if outs[0].OrderID != first {
		t.Errorf("expected earliest ask to fill first, got %s", outs[0].OrderID)
	}
	if _, ok := b.Resting(first, Ask); ok {
		t.Error("first ask should be fully consumed")
	}
	if _, ok := b.Resting(second, Ask); !ok {
		t.Error("second ask should still rest")
	}
}

func TestBook_BetterPriceBeatsTime(t *testing.T) {
	b := testBook()
	placeLimit(t, b, Ask, "1.05", "0.3")
	cheap := placeLimit(t, b, Ask, "1.02", "0.3")

	outs := b.Process(NewMarketOrder("BTC", "USD", Bid, dec("0.3"), time.Now()))
	if len(outs) != 2 || outs[0].OrderID != cheap {
		t.Fatalf("expected the cheaper ask to fill first, got %v", outs)
	}
	if !outs[0].Price.Equal(dec("1.02")) {
		t.Errorf("expected trade at 1.02, got %s", outs[0].Price)
	}
}

func TestBook_MarketOrderSweepsAndDiscardsRemainder(t *testing.T) {
	b := testBook()
	placeLimit(t, b, Ask, "1.02", "1.0")
	placeLimit(t, b, Ask, "1.05", "0.5")
	// Liquidity totals 1.5; the market bid wants 10.

	outs := b.Process(NewMarketOrder("BTC", "USD", Bid, dec("10.0"), time.Now()))

	var makerQty decimal.Decimal
	for _, out := range outs {
		if out.Kind == Accepted {
			t.Fatal("market order must never rest")
		}
		if out.Side == Ask {
			makerQty = makerQty.Add(out.Qty)
		}
	}
	if !makerQty.Equal(dec("1.5")) {
		t.Errorf("expected 1.5 filled against asks, got %s", makerQty)
	}
	if b.OrderCount() != 0 {
		t.Errorf("expected empty book, got %d resting orders", b.OrderCount())
	}
	if _, _, ok := b.Spread(); ok {
		t.Error("expected no spread on an empty book")
	}
}

func TestBook_MarketOrderNoLiquidity(t *testing.T) {
	b := testBook()
	outs := b.Process(NewMarketOrder("BTC", "USD", Bid, dec("2.0"), time.Now()))
	if len(outs) != 0 {
		t.Errorf("expected no outcomes against an empty book, got %v", kinds(outs))
	}
	if b.OrderCount() != 0 {
		t.Error("market order must not rest")
	}
}

func TestBook_Cancel(t *testing.T) {
	b := testBook()
	bidID := placeLimit(t, b, Bid, "0.98", "5.0")
	askID := placeLimit(t, b, Ask, "1.02", "1.0")

	outs := b.Process(CancelOrder[string](askID, Ask))
	if len(outs) != 1 || outs[0].Kind != Cancelled {
		t.Fatalf("expected single Cancelled, got %v", kinds(outs))
	}
	if outs[0].OrderID != askID || !outs[0].Qty.Equal(dec("1.0")) {
		t.Errorf("expected cancelled ask with remaining 1.0, got %s %s", outs[0].OrderID, outs[0].Qty)
	}

	if _, _, ok := b.Spread(); ok {
		t.Error("expected no spread after the only ask was cancelled")
	}
	if _, ok := b.Resting(bidID, Bid); !ok {
		t.Error("cancel must not touch the other side")
	}

	// Cancelling again misses.
	outs = b.Process(CancelOrder[string](askID, Ask))
	if len(outs) != 1 || outs[0].Kind != Failed || outs[0].Reason != ReasonOrderNotFound {
		t.Errorf("expected Failed(ORDER_NOT_FOUND), got %v", outs)
	}
}

func TestBook_CancelMissLeavesBookUntouched(t *testing.T) {
	b := testBook()
	placeLimit(t, b, Bid, "0.98", "5.0")
	placeLimit(t, b, Ask, "1.02", "1.0")
	before := b.Depth()

	outs := b.Process(CancelOrder[string](uuid.New(), Bid))
	if len(outs) != 1 || outs[0].Kind != Failed || outs[0].Reason != ReasonOrderNotFound {
		t.Fatalf("expected exactly one Failed(ORDER_NOT_FOUND), got %v", outs)
	}

	after := b.Depth()
	if len(after.Bids) != len(before.Bids) || len(after.Asks) != len(before.Asks) {
		t.Error("cancel miss must not mutate the book")
	}
	if b.OrderCount() != 2 {
		t.Errorf("expected 2 resting orders, got %d", b.OrderCount())
	}
}

func TestBook_AmendNotFound(t *testing.T) {
	b := testBook()
	outs := b.Process(AmendOrder[string](uuid.New(), Bid, dec("1.0"), dec("1.0"), time.Now()))
	if len(outs) != 1 || outs[0].Kind != Failed || outs[0].Reason != ReasonOrderNotFound {
		t.Errorf("expected Failed(ORDER_NOT_FOUND), got %v", outs)
	}
}

func TestBook_AmendLosesTimePriority(t *testing.T) {
	b := testBook()
	first := placeLimit(t, b, Bid, "1.00", "0.5")
	second := placeLimit(t, b, Bid, "1.00", "0.5")

	// Amend the first bid at the same price and quantity; it must
	// requeue behind the second.
	outs := b.Process(AmendOrder[string](first, Bid, dec("1.00"), dec("0.5"), time.Now()))
	if len(outs) != 1 || outs[0].Kind != Amended {
		t.Fatalf("expected single Amended, got %v", kinds(outs))
	}

	outs = b.Process(NewLimitOrder("BTC", "USD", Ask, dec("1.00"), dec("0.5"), time.Now()))
	if len(outs) != 2 || outs[0].OrderID != second {
		t.Errorf("expected the unamended bid to fill first, got %v", outs)
	}
	if _, ok := b.Resting(first, Bid); !ok {
		t.Error("amended bid should still rest")
	}
}

func TestBook_AmendReplacesPriceAndQty(t *testing.T) {
	b := testBook()
	id := placeLimit(t, b, Ask, "1.10", "1.0")

	outs := b.Process(AmendOrder[string](id, Ask, dec("1.20"), dec("2.0"), time.Now()))
	if len(outs) != 1 || outs[0].Kind != Amended {
		t.Fatalf("expected single Amended, got %v", kinds(outs))
	}
	if !outs[0].Price.Equal(dec("1.20")) || !outs[0].Qty.Equal(dec("2.0")) {
		t.Errorf("expected amended to 2.0 @ 1.20, got %s @ %s", outs[0].Qty, outs[0].Price)
	}

	rest, ok := b.Resting(id, Ask)
	if !ok {
		t.Fatal("expected amended order to rest")
	}
	if !rest.Price.Equal(dec("1.20")) || !rest.Qty.Equal(dec("2.0")) {
		t.Errorf("resting order not rewritten: %s @ %s", rest.Qty, rest.Price)
	}
}

func TestBook_AmendRemainderRestsWithoutAccepted(t *testing.T) {
	b := testBook()
	askID := placeLimit(t, b, Ask, "1.02", "0.5")
	bidID := placeLimit(t, b, Bid, "0.90", "1.0")

	// Amend the bid through the ask with more quantity than the ask
	// offers: it trades, then the remainder rests. The Amended outcome
	// already reports the new price and quantity, so no Accepted
	// follows.
	outs := b.Process(AmendOrder[string](bidID, Bid, dec("1.05"), dec("1.0"), time.Now()))
	want := []OutcomeKind{Amended, Filled, PartiallyFilled}
	got := kinds(outs)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if outs[1].OrderID != askID {
		t.Errorf("expected the resting ask to fill, got %v", outs[1])
	}

	rest, ok := b.Resting(bidID, Bid)
	if !ok {
		t.Fatal("expected amended remainder to rest")
	}
	if !rest.Price.Equal(dec("1.05")) || !rest.Qty.Equal(dec("0.5")) {
		t.Errorf("expected remainder 0.5 @ 1.05 resting, got %s @ %s", rest.Qty, rest.Price)
	}
}

func TestBook_AmendAcrossSpreadMatches(t *testing.T) {
	b := testBook()
	askID := placeLimit(t, b, Ask, "1.02", "1.0")
	bidID := placeLimit(t, b, Bid, "0.90", "0.5")

	// Amending the bid through the ask must trade, not leave the book
	// crossed.
	outs := b.Process(AmendOrder[string](bidID, Bid, dec("1.05"), dec("0.5"), time.Now()))

	if outs[0].Kind != Amended {
		t.Fatalf("expected Amended first, got %v", kinds(outs))
	}
	if len(outs) != 3 {
		t.Fatalf("expected Amended plus two fills, got %v", kinds(outs))
	}
	if outs[1].OrderID != askID || outs[1].Kind != PartiallyFilled {
		t.Errorf("expected resting ask PartiallyFilled, got %v", outs[1])
	}
	if outs[2].OrderID != bidID || outs[2].Kind != Filled {
		t.Errorf("expected amended bid Filled, got %v", outs[2])
	}
	if !outs[1].Price.Equal(dec("1.02")) {
		t.Errorf("expected trade at resting price 1.02, got %s", outs[1].Price)
	}

	bid, ask, ok := b.Spread()
	if ok && bid.GreaterThanOrEqual(ask) {
		t.Errorf("book left crossed: %s >= %s", bid, ask)
	}
}

func TestBook_ValidationHasNoSideEffects(t *testing.T) {
	b := testBook()
	placeLimit(t, b, Bid, "0.98", "5.0")
	placeLimit(t, b, Ask, "1.02", "1.0")

	tests := []struct {
		name   string
		req    Request[string]
		reason string
	}{
		{
			name:   "WrongOrderAsset",
			req:    NewLimitOrder("ETH", "USD", Bid, dec("1.0"), dec("1.0"), time.Now()),
			reason: ReasonBadOrderAsset,
		},
		{
			name:   "WrongPriceAsset",
			req:    NewLimitOrder("BTC", "ETH", Bid, dec("1.0"), dec("1.0"), time.Now()),
			reason: ReasonBadPriceAsset,
		},
		{
			name:   "ZeroQty",
			req:    NewLimitOrder("BTC", "USD", Bid, dec("1.0"), dec("0"), time.Now()),
			reason: ReasonBadQuantity,
		},
		{
			name:   "NegativePrice",
			req:    NewLimitOrder("BTC", "USD", Bid, dec("-1"), dec("1.0"), time.Now()),
			reason: ReasonBadPrice,
		},
		{
			name:   "MarketZeroQty",
			req:    NewMarketOrder("BTC", "USD", Ask, dec("0"), time.Now()),
			reason: ReasonBadQuantity,
		},
		{
			name:   "AmendNilID",
			req:    AmendOrder[string](uuid.Nil, Bid, dec("1.0"), dec("1.0"), time.Now()),
			reason: ReasonBadID,
		},
		{
			name:   "CancelNilID",
			req:    CancelOrder[string](uuid.Nil, Bid),
			reason: ReasonBadID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outs := b.Process(tt.req)
			if len(outs) != 1 || outs[0].Kind != Failed {
				t.Fatalf("expected single Failed, got %v", kinds(outs))
			}
			if outs[0].Reason != tt.reason {
				t.Errorf("expected reason %s, got %s", tt.reason, outs[0].Reason)
			}
			if b.OrderCount() != 2 {
				t.Errorf("rejected request mutated the book: %d resting", b.OrderCount())
			}
		})
	}
}

func TestBook_ConservationWithExactDecimals(t *testing.T) {
	b := testBook()
	// 0.1 + 0.2 != 0.3 in binary floating point; the book must not
	// leave dust behind.
	placeLimit(t, b, Ask, "1.00", "0.1")
	placeLimit(t, b, Ask, "1.00", "0.2")

	outs := b.Process(NewLimitOrder("BTC", "USD", Bid, dec("1.00"), dec("0.3"), time.Now()))

	for _, out := range outs {
		if out.Kind == Accepted {
			t.Fatalf("expected exact fill with no remainder, got Accepted for %s", out.Qty)
		}
	}
	if b.OrderCount() != 0 {
		t.Errorf("expected empty book after exact sweep, got %d resting", b.OrderCount())
	}

	var taken, given decimal.Decimal
	for _, out := range outs {
		if out.Side == Ask {
			given = given.Add(out.Qty)
		} else {
			taken = taken.Add(out.Qty)
		}
	}
	if !taken.Equal(given) || !taken.Equal(dec("0.3")) {
		t.Errorf("quantity not conserved: taker %s, makers %s", taken, given)
	}
}

func TestBook_Restore(t *testing.T) {
	b := testBook()

	bid := Order[string]{
		ID:         uuid.New(),
		OrderAsset: "BTC",
		PriceAsset: "USD",
		Side:       Bid,
		Type:       Limit,
		Price:      dec("0.98"),
		Qty:        dec("5.0"),
		Timestamp:  time.Now(),
	}
	ask := bid
	ask.ID = uuid.New()
	ask.Side = Ask
	ask.Price = dec("1.02")

	if err := b.Restore(bid); err != nil {
		t.Fatalf("restore bid: %v", err)
	}
	if err := b.Restore(ask); err != nil {
		t.Fatalf("restore ask: %v", err)
	}

	bb, ba, ok := b.Spread()
	if !ok || !bb.Equal(dec("0.98")) || !ba.Equal(dec("1.02")) {
		t.Errorf("expected restored spread (0.98, 1.02), got (%s, %s, %v)", bb, ba, ok)
	}

	if err := b.Restore(bid); err == nil {
		t.Error("expected duplicate id restore to fail")
	}

	crossing := bid
	crossing.ID = uuid.New()
	crossing.Price = dec("1.02")
	if err := b.Restore(crossing); err == nil {
		t.Error("expected crossing restore to fail")
	}

	empty := bid
	empty.ID = uuid.New()
	empty.Qty = decimal.Zero
	if err := b.Restore(empty); err == nil {
		t.Error("expected zero-qty restore to fail")
	}

	mismatch := bid
	mismatch.ID = uuid.New()
	mismatch.OrderAsset = "ETH"
	if err := b.Restore(mismatch); err == nil {
		t.Error("expected pair-mismatch restore to fail")
	}

	// Restored orders are live: an aggressor trades against them.
	outs := b.Process(NewLimitOrder("BTC", "USD", Bid, dec("1.02"), dec("1.0"), time.Now()))
	if len(outs) != 2 || outs[0].OrderID != ask.ID {
		t.Errorf("expected restored ask to fill, got %v", outs)
	}
}

func TestBook_DepthAggregatesLevels(t *testing.T) {
	b := testBook()
	placeLimit(t, b, Bid, "0.98", "1.0")
	placeLimit(t, b, Bid, "0.98", "2.0")
	placeLimit(t, b, Bid, "0.95", "1.5")
	placeLimit(t, b, Ask, "1.02", "0.5")

	depth := b.Depth()
	if len(depth.Bids) != 2 || len(depth.Asks) != 1 {
		t.Fatalf("expected 2 bid levels and 1 ask level, got %d/%d", len(depth.Bids), len(depth.Asks))
	}
	if !depth.Bids[0].Price.Equal(dec("0.98")) {
		t.Errorf("expected best bid level first, got %s", depth.Bids[0].Price)
	}
	if !depth.Bids[0].Qty.Equal(dec("3.0")) || depth.Bids[0].Orders != 2 {
		t.Errorf("expected level 0.98 to hold 3.0 across 2 orders, got %s across %d",
			depth.Bids[0].Qty, depth.Bids[0].Orders)
	}
}
