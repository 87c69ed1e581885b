package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one settled transfer. SellerID is nil when the counter-party
// was the public float.
type Transaction struct {
	TransactionID int64
	StockID       int64
	BuyerID       int64
	SellerID      *int64
	Amount        int
	Price         decimal.Decimal
	CreatedAt     time.Time
}
