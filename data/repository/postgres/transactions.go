package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/mkarpushin/stock_arena/data/repository"
	"github.com/mkarpushin/stock_arena/internal/converter/dbConverter"
	"github.com/mkarpushin/stock_arena/internal/model"
	"github.com/mkarpushin/stock_arena/internal/model/dbModel"
	"github.com/mkarpushin/stock_arena/utils"
)

func (r *Postgres) InsertTransaction(ctx context.Context, tx model.Transaction) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertTransaction"
	query := `
		INSERT INTO transactions(stock_id, buyer_id, seller_id, amount, price, dt_create)
		VALUES($1, $2, $3, $4, $5, $6)
		`

	slog.Debug("InsertTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Any("tx", tx), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("InsertTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, tx.StockID, tx.BuyerID, tx.SellerID, tx.Amount, tx.Price, tx.CreatedAt)
	if err != nil {
		return err
	}

	return nil
}

// GetTransactionsSince returns the stock's trades recorded strictly after
// since, oldest first.
func (r *Postgres) GetTransactionsSince(ctx context.Context, stockID int64, since time.Time) (txs []model.Transaction, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetTransactionsSince"
	query := `
		SELECT transaction_id, stock_id, buyer_id, seller_id, amount, price, dt_create
		FROM transactions
		WHERE stock_id = $1 AND dt_create > $2
		ORDER BY transaction_id
		`

	slog.Debug("GetTransactionsSince start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.Time("since", since), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetTransactionsSince failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTransactionsSince completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, stockID, since)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbTx dbModel.Transaction
		err = rows.StructScan(&dbTx)
		if err != nil {
			return nil, err
		}
		txs = append(txs, dbConverter.ConvertTransaction(dbTx))
	}

	return txs, nil
}

func (r *Postgres) InsertAvgPrice(ctx context.Context, rec model.AvgPrice) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertAvgPrice"
	query := `
		INSERT INTO avg_prices(stock_id, shares_traded, price, dt_create)
		VALUES($1, $2, $3, $4)
		`

	slog.Debug("InsertAvgPrice start", slog.String("rqID", rqID), slog.String("op", op), slog.Any("rec", rec), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("InsertAvgPrice failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertAvgPrice completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, rec.StockID, rec.SharesTraded, rec.Price, rec.CreatedAt)
	if err != nil {
		return err
	}

	return nil
}

// GetLatestAvgPrice returns the newest point of the stock's running average
// log, ErrNotFound when the log is empty.
func (r *Postgres) GetLatestAvgPrice(ctx context.Context, stockID int64) (rec model.AvgPrice, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetLatestAvgPrice"
	query := `
		SELECT stock_id, shares_traded, price, dt_create
		FROM avg_prices
		WHERE stock_id = $1
		ORDER BY dt_create DESC, avg_price_id DESC
		LIMIT 1
		`

	slog.Debug("GetLatestAvgPrice start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetLatestAvgPrice failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetLatestAvgPrice completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbRec := dbModel.AvgPrice{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, stockID).StructScan(&dbRec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AvgPrice{}, repository.ErrNotFound
		}
		return model.AvgPrice{}, err
	}

	return dbConverter.ConvertAvgPrice(dbRec), nil
}

// GetAvgPricesSince returns the stock's average-price history recorded after
// since, oldest first.
func (r *Postgres) GetAvgPricesSince(ctx context.Context, stockID int64, since time.Time) (recs []model.AvgPrice, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetAvgPricesSince"
	query := `
		SELECT stock_id, shares_traded, price, dt_create
		FROM avg_prices
		WHERE stock_id = $1 AND dt_create > $2
		ORDER BY dt_create
		`

	slog.Debug("GetAvgPricesSince start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.Time("since", since), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetAvgPricesSince failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetAvgPricesSince completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, stockID, since)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbRec dbModel.AvgPrice
		err = rows.StructScan(&dbRec)
		if err != nil {
			return nil, err
		}
		recs = append(recs, dbConverter.ConvertAvgPrice(dbRec))
	}

	return recs, nil
}
