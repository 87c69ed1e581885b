package servicetest

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var ErrCacheMiss = errors.New("cache miss")

// PriceCache is a map-backed stand-in for the redis price cache. A mutex
// guards it because services write prices from detached goroutines.
type PriceCache struct {
	mu     sync.Mutex
	prices map[int64]decimal.Decimal
}

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[int64]decimal.Decimal)}
}

func (c *PriceCache) GetStockPrice(ctx context.Context, stockID int64) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	price, ok := c.prices[stockID]
	if !ok {
		return decimal.Decimal{}, ErrCacheMiss
	}
	return price, nil
}

func (c *PriceCache) SetStockPrice(ctx context.Context, stockID int64, price decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[stockID] = price
	return nil
}

func (c *PriceCache) FlushStockPrice(ctx context.Context, stockID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prices, stockID)
	return nil
}

// Contains reports whether a price is cached for the stock.
func (c *PriceCache) Contains(stockID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.prices[stockID]
	return ok
}
