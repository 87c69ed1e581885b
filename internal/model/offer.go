package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OfferType string

const (
	OfferTypeBuy    OfferType = "buy"
	OfferTypeSell   OfferType = "sell"
	OfferTypePublic OfferType = "public"
)

// TradeOffer is a resting intent to trade. WriterID is nil only for public
// offerings, which are owned by the market itself.
type TradeOffer struct {
	OfferID   int64
	StockID   int64
	WriterID  *int64
	Type      OfferType
	Amount    int
	Price     decimal.Decimal
	CreatedAt time.Time
}
