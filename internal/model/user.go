package model

import "github.com/shopspring/decimal"

type User struct {
	UserID int64
	ChatID int64
	Funds  decimal.Decimal
}

type Share struct {
	UserID  int64
	StockID int64
	Amount  int
}
