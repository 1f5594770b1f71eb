package exchange

import "github.com/google/uuid"

// Validation failure reasons, surfaced verbatim in Failed outcomes.
const (
	ReasonBadOrderAsset = "BAD_ORDER_ASSET"
	ReasonBadPriceAsset = "BAD_PRICE_ASSET"
	ReasonBadQuantity   = "BAD_QUANTITY_VALUE"
	ReasonBadPrice      = "BAD_PRICE_VALUE"
	ReasonBadID         = "BAD_ID"
	ReasonOrderNotFound = "ORDER_NOT_FOUND"
)

// Validate checks a request against the book's configured asset pair
// and returns the failure reason, or "" when the request is well
// formed. Rules apply in a fixed order and the first failure wins.
// Validation is pure: it never consults book state, so an amend or
// cancel of an unknown id passes here and fails during processing.
func Validate[A comparable](req Request[A], orderAsset, priceAsset A) string {
	switch req.Kind {
	case NewLimit, NewMarket:
		if req.OrderAsset != orderAsset {
			return ReasonBadOrderAsset
		}
		if req.PriceAsset != priceAsset {
			return ReasonBadPriceAsset
		}
		if !req.Qty.IsPositive() {
			return ReasonBadQuantity
		}
		if req.Kind == NewLimit && !req.Price.IsPositive() {
			return ReasonBadPrice
		}
	case Amend:
		if !req.Price.IsPositive() {
			return ReasonBadPrice
		}
		if !req.Qty.IsPositive() {
			return ReasonBadQuantity
		}
		if req.ID == uuid.Nil {
			return ReasonBadID
		}
	case Cancel:
		if req.ID == uuid.Nil {
			return ReasonBadID
		}
	}
	return ""
}
