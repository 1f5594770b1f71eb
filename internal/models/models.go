package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset identifies a tradable instrument. The engine only ever
// compares assets for equality.
type Asset string

const (
	AssetBTC Asset = "BTC"
	AssetETH Asset = "ETH"
	AssetUSD Asset = "USD"
)

// ParseAsset validates a wire-level asset symbol.
func ParseAsset(s string) (Asset, bool) {
	switch Asset(s) {
	case AssetBTC, AssetETH, AssetUSD:
		return Asset(s), true
	}
	return "", false
}

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Order is the durable record of a submitted order. Price and
// Quantity are the values at submission; remaining quantity lives in
// the book and executions in the fills table.
type Order struct {
	ID        uuid.UUID       `json:"id"`
	UserID    int             `json:"user_id"`
	Side      string          `json:"side"` // "bid" or "ask"
	Type      string          `json:"type"` // "limit" or "market"
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Status    string          `json:"status"` // "open", "filled", "canceled"
	CreatedAt time.Time       `json:"created_at"`
}

// Fill is the durable record of one execution against an order,
// keyed by order id. Each match produces two fills, one per order
// involved.
type Fill struct {
	ID         int             `json:"id"`
	OrderID    uuid.UUID       `json:"order_id"`
	Side       string          `json:"side"`
	Kind       string          `json:"kind"` // "filled" or "partially_filled"
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	ExecutedAt time.Time       `json:"executed_at"`
}
