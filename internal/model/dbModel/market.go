package dbModel

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type Stock struct {
	StockID      int64        `db:"stock_id"`
	Ticker       string       `db:"ticker"`
	Name         string       `db:"name"`
	Bankrupt     bool         `db:"bankrupt"`
	BankruptDate sql.NullTime `db:"bankrupt_date"`
	PublicAmount int          `db:"public_amount"`
}

type TradeOffer struct {
	OfferID   int64           `db:"offer_id"`
	StockID   int64           `db:"stock_id"`
	WriterID  sql.NullInt64   `db:"writer_id"`
	Type      string          `db:"type"`
	Amount    int             `db:"amount"`
	Price     decimal.Decimal `db:"price"`
	CreatedAt time.Time       `db:"dt_create"`
}

type Transaction struct {
	TransactionID int64           `db:"transaction_id"`
	StockID       int64           `db:"stock_id"`
	BuyerID       int64           `db:"buyer_id"`
	SellerID      sql.NullInt64   `db:"seller_id"`
	Amount        int             `db:"amount"`
	Price         decimal.Decimal `db:"price"`
	CreatedAt     time.Time       `db:"dt_create"`
}

type AvgPrice struct {
	StockID      int64           `db:"stock_id"`
	SharesTraded uint64          `db:"shares_traded"`
	Price        decimal.Decimal `db:"price"`
	CreatedAt    time.Time       `db:"dt_create"`
}

type User struct {
	UserID int64           `db:"user_id"`
	ChatID int64           `db:"chat_id"`
	Funds  decimal.Decimal `db:"funds"`
}

type Share struct {
	UserID  int64 `db:"user_id"`
	StockID int64 `db:"stock_id"`
	Amount  int   `db:"amount"`
}
