package exchangeService

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mkarpushin/stock_arena/data/repository"
	"github.com/mkarpushin/stock_arena/internal/model"
	"github.com/mkarpushin/stock_arena/internal/service"
	"github.com/mkarpushin/stock_arena/utils"
	"github.com/shopspring/decimal"
)

// settle transfers amount shares and the matching funds between the acceptor
// and the offer's writer, logs one transaction and reduces the offer. It must
// run inside an enclosing transaction: any error rolls the whole operation
// back.
//
// Directions per offer type:
//   - sell:   acceptor buys, funds move acceptor -> writer
//   - buy:    writer buys, funds move writer -> acceptor
//   - public: acceptor buys from the float, funds leave the acceptor and are
//     absorbed by the market
func (s *ExchangeService) settle(ctx context.Context, acceptorID int64, offer model.TradeOffer, amount int) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "ExchangeService.settle"

	slog.Debug("settle start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("acceptorID", acceptorID), slog.Int64("offerID", offer.OfferID), slog.Int("amount", amount))
	defer func() {
		if err != nil {
			slog.Error("settle failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("settle finished", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	if amount <= 0 {
		return service.ErrInvalidArgument
	}
	if amount > offer.Amount {
		amount = offer.Amount
	}

	value := offer.Price.Mul(decimal.NewFromInt(int64(amount)))

	tx := model.Transaction{
		StockID:   offer.StockID,
		Amount:    amount,
		Price:     offer.Price,
		CreatedAt: s.nowFn(),
	}

	switch offer.Type {
	case model.OfferTypeBuy:
		writerID := *offer.WriterID
		if err = s.moveShares(ctx, acceptorID, writerID, offer.StockID, amount); err != nil {
			return err
		}
		if err = s.moveFunds(ctx, writerID, acceptorID, value); err != nil {
			return err
		}
		tx.BuyerID = writerID
		tx.SellerID = &acceptorID

	case model.OfferTypeSell:
		writerID := *offer.WriterID
		if err = s.moveShares(ctx, writerID, acceptorID, offer.StockID, amount); err != nil {
			return err
		}
		if err = s.moveFunds(ctx, acceptorID, writerID, value); err != nil {
			return err
		}
		tx.BuyerID = acceptorID
		tx.SellerID = &writerID

	case model.OfferTypePublic:
		if err = s.repo.DecrementPublicAmount(ctx, offer.StockID, amount); err != nil {
			if errors.Is(err, repository.ErrNoPublicShares) {
				return service.ErrNoPublicShares
			}
			return err
		}
		if err = s.repo.AddShares(ctx, acceptorID, offer.StockID, amount); err != nil {
			return err
		}
		// выручка поглощается рынком, никто не получает
		if err = s.repo.DeductFunds(ctx, acceptorID, value); err != nil {
			if errors.Is(err, repository.ErrInsufficientFunds) {
				return service.ErrInsufficientFunds
			}
			return err
		}
		tx.BuyerID = acceptorID

	default:
		return service.ErrInvalidOfferType
	}

	if err = s.repo.InsertTransaction(ctx, tx); err != nil {
		return err
	}

	return s.repo.ReduceOfferAmount(ctx, offer.OfferID, amount)
}

func (s *ExchangeService) moveShares(ctx context.Context, fromID, toID, stockID int64, amount int) error {
	if err := s.repo.RemoveShares(ctx, fromID, stockID, amount); err != nil {
		if errors.Is(err, repository.ErrInsufficientShares) {
			return service.ErrInsufficientShares
		}
		return err
	}
	return s.repo.AddShares(ctx, toID, stockID, amount)
}

func (s *ExchangeService) moveFunds(ctx context.Context, fromID, toID int64, value decimal.Decimal) error {
	if err := s.repo.DeductFunds(ctx, fromID, value); err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			return service.ErrInsufficientFunds
		}
		return err
	}
	return s.repo.AddFunds(ctx, toID, value)
}
