package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mkarpushin/stock_arena/data/repository"
	"github.com/mkarpushin/stock_arena/internal/converter/dbConverter"
	"github.com/mkarpushin/stock_arena/internal/model"
	"github.com/mkarpushin/stock_arena/internal/model/dbModel"
	"github.com/mkarpushin/stock_arena/utils"
)

func (r *Postgres) InsertStock(ctx context.Context, ticker, name string, publicAmount int) (stockID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertStock"
	query := `INSERT INTO stocks(ticker, name, public_amount) VALUES($1, $2, $3) RETURNING stock_id`

	slog.Debug("InsertStock start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("InsertStock failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertStock completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, ticker, name, publicAmount).Scan(&stockID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" { // unique_violation
				return 0, repository.ErrAlreadyExists
			}
		}
		return 0, err
	}

	return stockID, nil
}

func (r *Postgres) GetStock(ctx context.Context, stockID int64) (stock model.Stock, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetStock"
	query := `
		SELECT stock_id, ticker, name, bankrupt, bankrupt_date, public_amount
		FROM stocks
		WHERE stock_id = $1
		`

	slog.Debug("GetStock start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetStock failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetStock completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbStock := dbModel.Stock{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, stockID).StructScan(&dbStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Stock{}, repository.ErrNotFound
		}
		return model.Stock{}, err
	}

	return dbConverter.ConvertStock(dbStock), nil
}

func (r *Postgres) GetActiveStocks(ctx context.Context) (stocks []model.Stock, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetActiveStocks"
	query := `
		SELECT stock_id, ticker, name, bankrupt, bankrupt_date, public_amount
		FROM stocks
		WHERE NOT bankrupt
		ORDER BY stock_id
		`

	slog.Debug("GetActiveStocks start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetActiveStocks failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetActiveStocks completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbStock dbModel.Stock
		err = rows.StructScan(&dbStock)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, dbConverter.ConvertStock(dbStock))
	}

	return stocks, nil
}

func (r *Postgres) MarkBankrupt(ctx context.Context, stockID int64, bankruptDate time.Time) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.MarkBankrupt"
	query := `
		UPDATE stocks
		SET bankrupt = true, bankrupt_date = $2, public_amount = 0
		WHERE stock_id = $1
		`

	slog.Debug("MarkBankrupt start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("MarkBankrupt failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("MarkBankrupt completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, stockID, bankruptDate)
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

// RaisePublicAmount raises the stock's publicly offered amount up to floor.
// Stocks already at or above floor are left untouched.
func (r *Postgres) RaisePublicAmount(ctx context.Context, stockID int64, floor int) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.RaisePublicAmount"
	query := `
		UPDATE stocks
		SET public_amount = GREATEST(public_amount, $2)
		WHERE stock_id = $1
		`

	slog.Debug("RaisePublicAmount start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.Int("floor", floor), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("RaisePublicAmount failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("RaisePublicAmount completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, stockID, floor)
	if err != nil {
		return err
	}

	return nil
}

// DecrementPublicAmount takes amount shares from the stock's public float.
func (r *Postgres) DecrementPublicAmount(ctx context.Context, stockID int64, amount int) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DecrementPublicAmount"
	query := `
		UPDATE stocks
		SET public_amount = public_amount - $2
		WHERE stock_id = $1 AND public_amount >= $2
		`

	slog.Debug("DecrementPublicAmount start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.Int("amount", amount), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("DecrementPublicAmount failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DecrementPublicAmount completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, stockID, amount)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNoPublicShares
	}

	return nil
}

// GetTotalFloat returns the stock's total float: shares held by users plus
// the publicly offered amount.
func (r *Postgres) GetTotalFloat(ctx context.Context, stockID int64) (total int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetTotalFloat"
	query := `
		SELECT COALESCE((SELECT SUM(amount) FROM shares WHERE stock_id = $1), 0)
			+ (SELECT public_amount FROM stocks WHERE stock_id = $1)
		`

	slog.Debug("GetTotalFloat start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetTotalFloat failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTotalFloat completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, stockID).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, err
	}

	return total, nil
}

// GetLastBankruptDate returns the newest bankruptcy timestamp, or zero time
// when no stock went bankrupt yet.
func (r *Postgres) GetLastBankruptDate(ctx context.Context) (dt time.Time, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetLastBankruptDate"
	query := `SELECT COALESCE(MAX(bankrupt_date), 'epoch'::timestamptz) FROM stocks WHERE bankrupt`

	slog.Debug("GetLastBankruptDate start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetLastBankruptDate failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetLastBankruptDate completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query).Scan(&dt)
	if err != nil {
		return time.Time{}, err
	}

	return dt, nil
}
