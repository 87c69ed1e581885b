package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Stock struct {
	StockID      int64
	Ticker       string
	Name         string
	Bankrupt     bool
	BankruptDate *time.Time
	PublicAmount int
}

// AvgPrice is one point of the append-only running average log. SharesTraded
// and Price are cumulative as of CreatedAt.
type AvgPrice struct {
	StockID      int64
	SharesTraded uint64
	Price        decimal.Decimal
	CreatedAt    time.Time
}
