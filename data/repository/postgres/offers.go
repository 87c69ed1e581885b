package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/mkarpushin/stock_arena/data/repository"
	"github.com/mkarpushin/stock_arena/internal/converter/dbConverter"
	"github.com/mkarpushin/stock_arena/internal/model"
	"github.com/mkarpushin/stock_arena/internal/model/dbModel"
	"github.com/mkarpushin/stock_arena/utils"
	"github.com/shopspring/decimal"
)

func (r *Postgres) InsertOffer(ctx context.Context, stockID int64, writerID *int64, offerType model.OfferType, amount int, price decimal.Decimal) (offerID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertOffer"
	query := `
		INSERT INTO trade_offers(stock_id, writer_id, type, amount, price)
		VALUES($1, $2, $3, $4, $5)
		RETURNING offer_id
		`

	slog.Debug("InsertOffer start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.String("type", string(offerType)), slog.Int("amount", amount), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("InsertOffer failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertOffer completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, stockID, writerID, string(offerType), amount, price).Scan(&offerID)
	if err != nil {
		return 0, err
	}

	return offerID, nil
}

func (r *Postgres) getOffer(ctx context.Context, offerID int64, query string) (offer model.TradeOffer, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.getOffer"

	slog.Debug("getOffer start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("offerID", offerID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("getOffer failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("getOffer completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbOffer := dbModel.TradeOffer{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, offerID).StructScan(&dbOffer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TradeOffer{}, repository.ErrNotFound
		}
		return model.TradeOffer{}, err
	}

	return dbConverter.ConvertOffer(dbOffer), nil
}

func (r *Postgres) GetOffer(ctx context.Context, offerID int64) (offer model.TradeOffer, err error) {
	query := `
		SELECT offer_id, stock_id, writer_id, type, amount, price, dt_create
		FROM trade_offers
		WHERE offer_id = $1
		`

	return r.getOffer(ctx, offerID, query)
}

// GetOfferForUpdate locks the offer row for the rest of the transaction, so
// two concurrent accepts of the same offer serialize.
func (r *Postgres) GetOfferForUpdate(ctx context.Context, offerID int64) (offer model.TradeOffer, err error) {
	query := `
		SELECT offer_id, stock_id, writer_id, type, amount, price, dt_create
		FROM trade_offers
		WHERE offer_id = $1
		FOR UPDATE
		`

	return r.getOffer(ctx, offerID, query)
}

// GetMatchingOffers returns the resting offers an incoming order of orderType
// can trade against, best price first. Equal prices come in creation order
// (ascending offer_id).
func (r *Postgres) GetMatchingOffers(ctx context.Context, stockID int64, orderType model.OfferType, price decimal.Decimal) (offers []model.TradeOffer, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetMatchingOffers"

	var query string
	switch orderType {
	case model.OfferTypeBuy:
		query = `
			SELECT offer_id, stock_id, writer_id, type, amount, price, dt_create
			FROM trade_offers
			WHERE stock_id = $1 AND type IN ('sell', 'public') AND price <= $2
			ORDER BY price ASC, offer_id ASC
			FOR UPDATE
			`
	case model.OfferTypeSell:
		query = `
			SELECT offer_id, stock_id, writer_id, type, amount, price, dt_create
			FROM trade_offers
			WHERE stock_id = $1 AND type = 'buy' AND price >= $2
			ORDER BY price DESC, offer_id ASC
			FOR UPDATE
			`
	default:
		return nil, repository.ErrNotFound
	}

	slog.Debug("GetMatchingOffers start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.String("orderType", string(orderType)), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetMatchingOffers failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetMatchingOffers completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, stockID, price)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbOffer dbModel.TradeOffer
		err = rows.StructScan(&dbOffer)
		if err != nil {
			return nil, err
		}
		offers = append(offers, dbConverter.ConvertOffer(dbOffer))
	}

	return offers, nil
}

// ReduceOfferAmount subtracts amount from the offer and drops the row once it
// hits zero.
func (r *Postgres) ReduceOfferAmount(ctx context.Context, offerID int64, amount int) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ReduceOfferAmount"
	query := `
		UPDATE trade_offers
		SET amount = amount - $2
		WHERE offer_id = $1 AND amount >= $2
		`

	slog.Debug("ReduceOfferAmount start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("offerID", offerID), slog.Int("amount", amount), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("ReduceOfferAmount failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ReduceOfferAmount completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, offerID, amount)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	deleteQuery := `DELETE FROM trade_offers WHERE offer_id = $1 AND amount = 0`
	_, err = r.txOrDb(ctx).ExecContext(ctx, deleteQuery, offerID)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) DeleteOffer(ctx context.Context, offerID int64) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DeleteOffer"
	query := `DELETE FROM trade_offers WHERE offer_id = $1`

	slog.Debug("DeleteOffer start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("offerID", offerID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("DeleteOffer failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteOffer completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, offerID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *Postgres) DeleteOffersByStock(ctx context.Context, stockID int64) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DeleteOffersByStock"
	query := `DELETE FROM trade_offers WHERE stock_id = $1`

	slog.Debug("DeleteOffersByStock start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("DeleteOffersByStock failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteOffersByStock completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, stockID)
	if err != nil {
		return err
	}

	return nil
}

// GetBuyCommitment returns the total value already promised by the user's
// outstanding buy offers.
func (r *Postgres) GetBuyCommitment(ctx context.Context, userID int64) (committed decimal.Decimal, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetBuyCommitment"
	query := `
		SELECT COALESCE(SUM(amount * price), 0)
		FROM trade_offers
		WHERE writer_id = $1 AND type = 'buy'
		`

	slog.Debug("GetBuyCommitment start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetBuyCommitment failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetBuyCommitment completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, userID).Scan(&committed)
	if err != nil {
		return decimal.Decimal{}, err
	}

	return committed, nil
}

// GetPublicOffer returns the stock's public offering. Each stock has at most
// one.
func (r *Postgres) GetPublicOffer(ctx context.Context, stockID int64) (offer model.TradeOffer, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetPublicOffer"
	query := `
		SELECT offer_id, stock_id, writer_id, type, amount, price, dt_create
		FROM trade_offers
		WHERE stock_id = $1 AND type = 'public'
		`

	slog.Debug("GetPublicOffer start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetPublicOffer failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetPublicOffer completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbOffer := dbModel.TradeOffer{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, stockID).StructScan(&dbOffer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TradeOffer{}, repository.ErrNotFound
		}
		return model.TradeOffer{}, err
	}

	return dbConverter.ConvertOffer(dbOffer), nil
}

// RaiseOfferAmount raises the offer's amount up to floor, never lowering it.
func (r *Postgres) RaiseOfferAmount(ctx context.Context, offerID int64, floor int) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.RaiseOfferAmount"
	query := `
		UPDATE trade_offers
		SET amount = GREATEST(amount, $2)
		WHERE offer_id = $1
		`

	slog.Debug("RaiseOfferAmount start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("offerID", offerID), slog.Int("floor", floor), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("RaiseOfferAmount failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("RaiseOfferAmount completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, offerID, floor)
	if err != nil {
		return err
	}

	return nil
}
