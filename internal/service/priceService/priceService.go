package priceService

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mkarpushin/stock_arena/config"
	"github.com/mkarpushin/stock_arena/data/repository"
	"github.com/mkarpushin/stock_arena/internal/model"
	"github.com/mkarpushin/stock_arena/internal/service"
	"github.com/mkarpushin/stock_arena/utils"
	"github.com/shopspring/decimal"
)

type Repository interface {
	WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error
	GetStock(ctx context.Context, stockID int64) (model.Stock, error)
	GetActiveStocks(ctx context.Context) ([]model.Stock, error)
	GetLatestAvgPrice(ctx context.Context, stockID int64) (model.AvgPrice, error)
	GetTransactionsSince(ctx context.Context, stockID int64, since time.Time) ([]model.Transaction, error)
	InsertAvgPrice(ctx context.Context, rec model.AvgPrice) error
}

type Cache interface {
	GetStockPrice(ctx context.Context, stockID int64) (decimal.Decimal, error)
	SetStockPrice(ctx context.Context, stockID int64, price decimal.Decimal) error
}

type PriceService struct {
	cfg   *config.Config
	repo  Repository
	cache Cache
	nowFn func() time.Time
}

func New(cfg *config.Config, repo Repository, cache Cache) *PriceService {
	return &PriceService{
		cfg:   cfg,
		repo:  repo,
		cache: cache,
		nowFn: time.Now,
	}
}

// UpdateAverage folds the stock's trades recorded since the last average
// point into the cumulative volume-weighted mean and appends a new point to
// the log. Old points are history and never overwritten: the mean is
// cumulative by design, not a moving average.
func (s *PriceService) UpdateAverage(ctx context.Context, stockID int64) (rec model.AvgPrice, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PriceService.UpdateAverage"

	slog.Debug("UpdateAverage start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID))
	defer func() {
		if err != nil {
			slog.Error("UpdateAverage failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpdateAverage finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("price", rec.Price.String()))
		}
	}()

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		stock, err := s.repo.GetStock(ctx, stockID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return service.ErrNotFound
			}
			return err
		}
		if stock.Bankrupt {
			return service.ErrBankruptStock
		}

		prior := model.AvgPrice{Price: decimal.NewFromFloat(s.cfg.Market.DefaultPrice)}
		last, err := s.repo.GetLatestAvgPrice(ctx, stockID)
		if err == nil {
			prior = last
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		txs, err := s.repo.GetTransactionsSince(ctx, stockID, prior.CreatedAt)
		if err != nil {
			return err
		}

		rec = s.foldTrades(stockID, prior, txs)

		return s.repo.InsertAvgPrice(ctx, rec)
	})
	if err != nil {
		return model.AvgPrice{}, err
	}

	go s.cache.SetStockPrice(context.WithoutCancel(ctx), stockID, rec.Price)

	return rec, nil
}

// foldTrades computes the next point of the running average:
// (priorPrice*priorVolume + sum(amount*price)) / newVolume, or the configured
// default price while nothing was ever traded.
func (s *PriceService) foldTrades(stockID int64, prior model.AvgPrice, txs []model.Transaction) model.AvgPrice {
	newVolume := prior.SharesTraded
	weighted := prior.Price.Mul(decimal.NewFromUint64(prior.SharesTraded))

	for _, tx := range txs {
		newVolume += uint64(tx.Amount)
		weighted = weighted.Add(tx.Price.Mul(decimal.NewFromInt(int64(tx.Amount))))
	}

	price := decimal.NewFromFloat(s.cfg.Market.DefaultPrice)
	if newVolume > 0 {
		price = weighted.Div(decimal.NewFromUint64(newVolume))
	}

	return model.AvgPrice{
		StockID:      stockID,
		SharesTraded: newVolume,
		Price:        price,
		CreatedAt:    s.nowFn(),
	}
}

// UpdateAllAverages rolls the running average forward for every live stock.
// Bankrupt stocks are not listed, so they are skipped rather than failed. A
// failure on one stock is logged and the rest of the batch still runs.
// Scheduled via the price job.
func (s *PriceService) UpdateAllAverages(ctx context.Context) (err error) {
	ctx = utils.CreateCtxWithRqID(ctx)
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PriceService.UpdateAllAverages"

	slog.Debug("UpdateAllAverages start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		if err != nil {
			slog.Error("UpdateAllAverages failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpdateAllAverages finished", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	stocks, err := s.repo.GetActiveStocks(ctx)
	if err != nil {
		return err
	}

	for _, stock := range stocks {
		if _, err := s.UpdateAverage(ctx, stock.StockID); err != nil {
			slog.Error("got error from UpdateAverage", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stock.StockID), slog.String("err", err.Error()))
			continue
		}
	}

	return nil
}

// CurrentPrice returns the stock's latest running average price, cache first,
// ledger fallback. Stocks that never traded get the configured default.
func (s *PriceService) CurrentPrice(ctx context.Context, stockID int64) (price decimal.Decimal, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PriceService.CurrentPrice"

	slog.Debug("CurrentPrice start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID))
	defer func() {
		if err != nil {
			slog.Error("CurrentPrice failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("CurrentPrice finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("price", price.String()))
		}
	}()

	price, err = s.cache.GetStockPrice(ctx, stockID)
	if err == nil {
		return price, nil
	}

	slog.Warn("can't get stock price from cache", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))

	rec, err := s.repo.GetLatestAvgPrice(ctx, stockID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return decimal.NewFromFloat(s.cfg.Market.DefaultPrice), nil
		}
		return decimal.Decimal{}, err
	}

	go s.cache.SetStockPrice(context.WithoutCancel(ctx), stockID, rec.Price)

	return rec.Price, nil
}
