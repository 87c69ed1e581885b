package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mkarpushin/stock_arena/data/repository"
	"github.com/mkarpushin/stock_arena/internal/converter/dbConverter"
	"github.com/mkarpushin/stock_arena/internal/model"
	"github.com/mkarpushin/stock_arena/internal/model/dbModel"
	"github.com/mkarpushin/stock_arena/utils"
	"github.com/shopspring/decimal"
)

func (r *Postgres) InsertUser(ctx context.Context, chatID int64, funds decimal.Decimal) (userID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertUser"
	query := `INSERT INTO users(chat_id, funds) VALUES($1, $2) RETURNING user_id`

	slog.Debug("InsertUser start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("InsertUser failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertUser completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, chatID, funds).Scan(&userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" { // unique_violation
				return 0, repository.ErrAlreadyExists
			}
		}
		return 0, err
	}

	return userID, nil
}

func (r *Postgres) getUser(ctx context.Context, userID int64, query string) (user model.User, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.getUser"

	slog.Debug("getUser start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("getUser failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("getUser completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbUser := dbModel.User{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, userID).StructScan(&dbUser)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, repository.ErrNotFound
		}
		return model.User{}, err
	}

	return dbConverter.ConvertUser(dbUser), nil
}

func (r *Postgres) GetUser(ctx context.Context, userID int64) (user model.User, err error) {
	query := `
		SELECT user_id, chat_id, funds
		FROM users
		WHERE user_id = $1
		`

	return r.getUser(ctx, userID, query)
}

// GetUserForUpdate locks the user's row for the rest of the transaction, so
// concurrent fund moves on the same balance serialize.
func (r *Postgres) GetUserForUpdate(ctx context.Context, userID int64) (user model.User, err error) {
	query := `
		SELECT user_id, chat_id, funds
		FROM users
		WHERE user_id = $1
		FOR UPDATE
		`

	return r.getUser(ctx, userID, query)
}

func (r *Postgres) AddFunds(ctx context.Context, userID int64, value decimal.Decimal) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.AddFunds"
	query := `UPDATE users SET funds = funds + $2 WHERE user_id = $1`

	slog.Debug("AddFunds start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID), slog.String("value", value.String()), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("AddFunds failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("AddFunds completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, userID, value)
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

// DeductFunds debits value from the user's balance. The balance never goes
// below zero: a debit past zero affects no row and fails ErrInsufficientFunds.
func (r *Postgres) DeductFunds(ctx context.Context, userID int64, value decimal.Decimal) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DeductFunds"
	query := `UPDATE users SET funds = funds - $2 WHERE user_id = $1 AND funds >= $2`

	slog.Debug("DeductFunds start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID), slog.String("value", value.String()), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("DeductFunds failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeductFunds completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, userID, value)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrInsufficientFunds
	}

	return nil
}
