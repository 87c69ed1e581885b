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
)

func (r *Postgres) GetShare(ctx context.Context, userID, stockID int64) (share model.Share, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetShare"
	query := `
		SELECT user_id, stock_id, amount
		FROM shares
		WHERE user_id = $1 AND stock_id = $2
		`

	slog.Debug("GetShare start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID), slog.Int64("stockID", stockID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetShare failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetShare completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbShare := dbModel.Share{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, userID, stockID).StructScan(&dbShare)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Share{}, repository.ErrNotFound
		}
		return model.Share{}, err
	}

	return dbConverter.ConvertShare(dbShare), nil
}

// AddShares credits amount shares of the stock to the user, creating the
// holding row when the user receives this stock for the first time.
func (r *Postgres) AddShares(ctx context.Context, userID, stockID int64, amount int) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.AddShares"
	query := `
		INSERT INTO shares(user_id, stock_id, amount)
		VALUES($1, $2, $3)
		ON CONFLICT (user_id, stock_id) DO UPDATE SET amount = shares.amount + EXCLUDED.amount
		`

	slog.Debug("AddShares start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID), slog.Int64("stockID", stockID), slog.Int("amount", amount), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("AddShares failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("AddShares completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, userID, stockID, amount)
	if err != nil {
		return err
	}

	return nil
}

// RemoveShares debits amount shares from the user's holding and drops the row
// when it reaches zero. Fails ErrInsufficientShares when the holding is
// missing or too small.
func (r *Postgres) RemoveShares(ctx context.Context, userID, stockID int64, amount int) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.RemoveShares"
	query := `
		UPDATE shares
		SET amount = amount - $3
		WHERE user_id = $1 AND stock_id = $2 AND amount >= $3
		`

	slog.Debug("RemoveShares start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID), slog.Int64("stockID", stockID), slog.Int("amount", amount), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("RemoveShares failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("RemoveShares completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, userID, stockID, amount)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrInsufficientShares
	}

	deleteQuery := `DELETE FROM shares WHERE user_id = $1 AND stock_id = $2 AND amount = 0`
	_, err = r.txOrDb(ctx).ExecContext(ctx, deleteQuery, userID, stockID)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) DeleteSharesByStock(ctx context.Context, stockID int64) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DeleteSharesByStock"
	query := `DELETE FROM shares WHERE stock_id = $1`

	slog.Debug("DeleteSharesByStock start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("stockID", stockID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("DeleteSharesByStock failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteSharesByStock completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, stockID)
	if err != nil {
		return err
	}

	return nil
}
