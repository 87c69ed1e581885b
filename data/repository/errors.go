package repository

import "errors"

var (
	ErrAlreadyExists      = errors.New("error already exists")
	ErrNotFound           = errors.New("error not found")
	ErrInsufficientFunds  = errors.New("error insufficient funds")
	ErrInsufficientShares = errors.New("error insufficient shares")
	ErrNoPublicShares     = errors.New("error not enough publicly offered shares")
)
