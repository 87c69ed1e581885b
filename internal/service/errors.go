package service

import "errors"

var (
	ErrNotFound           = errors.New("error not found")
	ErrAlreadyExists      = errors.New("error already exists")
	ErrInvalidArgument    = errors.New("error invalid argument")
	ErrInvalidOfferType   = errors.New("error invalid offer type")
	ErrBankruptStock      = errors.New("error stock is bankrupt")
	ErrInsufficientFunds  = errors.New("error insufficient funds")
	ErrInsufficientShares = errors.New("error insufficient shares")
	ErrNoPublicShares     = errors.New("error not enough publicly offered shares")
	ErrNoEligibleStocks   = errors.New("error no stocks to bankrupt")
)
