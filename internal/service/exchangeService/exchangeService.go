package exchangeService

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
	InsertStock(ctx context.Context, ticker, name string, publicAmount int) (stockID int64, err error)
	GetStock(ctx context.Context, stockID int64) (model.Stock, error)
	InsertUser(ctx context.Context, chatID int64, funds decimal.Decimal) (userID int64, err error)
	GetUserForUpdate(ctx context.Context, userID int64) (model.User, error)
	AddFunds(ctx context.Context, userID int64, value decimal.Decimal) error
	DeductFunds(ctx context.Context, userID int64, value decimal.Decimal) error
	GetShare(ctx context.Context, userID, stockID int64) (model.Share, error)
	AddShares(ctx context.Context, userID, stockID int64, amount int) error
	RemoveShares(ctx context.Context, userID, stockID int64, amount int) error
	DecrementPublicAmount(ctx context.Context, stockID int64, amount int) error
	InsertOffer(ctx context.Context, stockID int64, writerID *int64, offerType model.OfferType, amount int, price decimal.Decimal) (offerID int64, err error)
	GetOffer(ctx context.Context, offerID int64) (model.TradeOffer, error)
	GetOfferForUpdate(ctx context.Context, offerID int64) (model.TradeOffer, error)
	GetMatchingOffers(ctx context.Context, stockID int64, orderType model.OfferType, price decimal.Decimal) ([]model.TradeOffer, error)
	ReduceOfferAmount(ctx context.Context, offerID int64, amount int) error
	DeleteOffer(ctx context.Context, offerID int64) error
	GetBuyCommitment(ctx context.Context, userID int64) (decimal.Decimal, error)
	InsertTransaction(ctx context.Context, tx model.Transaction) error
}

type ExchangeService struct {
	cfg   *config.Config
	repo  Repository
	nowFn func() time.Time
}

func New(cfg *config.Config, repo Repository) *ExchangeService {
	return &ExchangeService{
		cfg:   cfg,
		repo:  repo,
		nowFn: time.Now,
	}
}

// PlaceOrder validates and matches an incoming buy or sell order. Matched
// quantity settles against resting offers immediately; any unfilled remainder
// is booked as a new resting offer at the order's price. The whole call is
// one transaction.
func (s *ExchangeService) PlaceOrder(ctx context.Context, stockID, writerID int64, amount int, price decimal.Decimal, offerType model.OfferType) (res model.OrderResult, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "ExchangeService.PlaceOrder"

	slog.Debug("PlaceOrder start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.Int64("writerID", writerID), slog.Int("amount", amount), slog.String("price", price.String()), slog.String("type", string(offerType)))
	defer func() {
		if err != nil {
			slog.Error("PlaceOrder failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("PlaceOrder finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int("filled", res.FilledAmount))
		}
	}()

	if offerType != model.OfferTypeBuy && offerType != model.OfferTypeSell {
		return model.OrderResult{}, service.ErrInvalidOfferType
	}
	if amount <= 0 || !price.IsPositive() {
		return model.OrderResult{}, service.ErrInvalidArgument
	}

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

		// порядок блокировок: сначала офферы, потом строка пользователя,
		// как в AcceptOffer
		candidates, err := s.repo.GetMatchingOffers(ctx, stockID, offerType, price)
		if err != nil {
			return err
		}

		writer, err := s.repo.GetUserForUpdate(ctx, writerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return service.ErrNotFound
			}
			return err
		}

		if offerType == model.OfferTypeSell {
			share, err := s.repo.GetShare(ctx, writerID, stockID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			if share.Amount < amount {
				return service.ErrInsufficientShares
			}
		} else {
			// точечная проверка: средства не резервируются при размещении,
			// деньги двигаются только при исполнении
			committed, err := s.repo.GetBuyCommitment(ctx, writerID)
			if err != nil {
				return err
			}
			orderValue := price.Mul(decimal.NewFromInt(int64(amount)))
			if writer.Funds.Sub(committed).LessThan(orderValue) {
				return service.ErrInsufficientFunds
			}
		}

		remaining := amount
		for _, candidate := range candidates {
			if candidate.Amount < remaining {
				if err := s.settle(ctx, writerID, candidate, candidate.Amount); err != nil {
					return err
				}
				res.FilledAmount += candidate.Amount
				remaining -= candidate.Amount
				continue
			}

			if err := s.settle(ctx, writerID, candidate, remaining); err != nil {
				return err
			}
			res.FilledAmount += remaining
			remaining = 0
			break
		}

		if remaining > 0 {
			offerID, err := s.repo.InsertOffer(ctx, stockID, &writerID, offerType, remaining, price)
			if err != nil {
				return err
			}
			res.RestingOfferID = &offerID
			res.RestingAmount = remaining
		}

		return nil
	})
	if err != nil {
		return model.OrderResult{}, err
	}

	return res, nil
}

// AcceptOffer settles amount shares against an existing offer on behalf of
// the acceptor. Nil amount means the offer's full remaining amount; a larger
// request is capped at the remainder.
func (s *ExchangeService) AcceptOffer(ctx context.Context, acceptorID, offerID int64, amount *int) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "ExchangeService.AcceptOffer"

	slog.Debug("AcceptOffer start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("acceptorID", acceptorID), slog.Int64("offerID", offerID))
	defer func() {
		if err != nil {
			slog.Error("AcceptOffer failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("AcceptOffer finished", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	if amount != nil && *amount <= 0 {
		return service.ErrInvalidArgument
	}

	return s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		offer, err := s.repo.GetOfferForUpdate(ctx, offerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return service.ErrNotFound
			}
			return err
		}

		if _, err = s.repo.GetUserForUpdate(ctx, acceptorID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return service.ErrNotFound
			}
			return err
		}

		requested := offer.Amount
		if amount != nil {
			requested = *amount
		}

		return s.settle(ctx, acceptorID, offer, requested)
	})
}

// CancelOffer removes a resting offer. Public offerings belong to the market
// and cannot be cancelled. No funds are returned; nothing was escrowed at
// placement.
func (s *ExchangeService) CancelOffer(ctx context.Context, offerID int64) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "ExchangeService.CancelOffer"

	slog.Debug("CancelOffer start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("offerID", offerID))
	defer func() {
		if err != nil {
			slog.Error("CancelOffer failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("CancelOffer finished", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	return s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		offer, err := s.repo.GetOffer(ctx, offerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return service.ErrNotFound
			}
			return err
		}

		if offer.Type == model.OfferTypePublic {
			return service.ErrInvalidOfferType
		}

		return s.repo.DeleteOffer(ctx, offerID)
	})
}

// IssueStock lists a new stock with an initial public float and its public
// offering at the issue price.
func (s *ExchangeService) IssueStock(ctx context.Context, ticker, name string, publicAmount int, price decimal.Decimal) (stockID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "ExchangeService.IssueStock"

	slog.Debug("IssueStock start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker), slog.Int("publicAmount", publicAmount))
	defer func() {
		if err != nil {
			slog.Error("IssueStock failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("IssueStock finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID))
		}
	}()

	if ticker == "" || publicAmount <= 0 || !price.IsPositive() {
		return 0, service.ErrInvalidArgument
	}

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		stockID, err = s.repo.InsertStock(ctx, ticker, name, publicAmount)
		if err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return service.ErrAlreadyExists
			}
			return err
		}

		_, err = s.repo.InsertOffer(ctx, stockID, nil, model.OfferTypePublic, publicAmount, price)
		return err
	})
	if err != nil {
		return 0, err
	}

	return stockID, nil
}

// RegUser registers a game user with the configured starting funds.
func (s *ExchangeService) RegUser(ctx context.Context, chatID int64) (userID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "ExchangeService.RegUser"

	slog.Debug("RegUser start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	defer func() {
		if err != nil {
			slog.Error("RegUser failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("RegUser finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID))
		}
	}()

	userID, err = s.repo.InsertUser(ctx, chatID, decimal.NewFromFloat(s.cfg.Market.StartingFunds))
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return 0, service.ErrAlreadyExists
		}
		return 0, err
	}

	return userID, nil
}
