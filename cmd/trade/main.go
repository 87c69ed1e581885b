// Operator CLI for the exchange: issues stocks, registers users and drives
// trade operations against the same ledger the daemon runs on.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mkarpushin/stock_arena/config"
	"github.com/mkarpushin/stock_arena/data"
	"github.com/mkarpushin/stock_arena/data/repository/postgres"
	"github.com/mkarpushin/stock_arena/internal/model"
	"github.com/mkarpushin/stock_arena/internal/service/exchangeService"
	"github.com/mkarpushin/stock_arena/utils"
	"github.com/shopspring/decimal"
)

func main() {
	op := flag.String("op", "", "operation: issue | reg | place | accept | cancel")
	ticker := flag.String("ticker", "", "stock ticker (issue)")
	name := flag.String("name", "", "stock name (issue)")
	chatID := flag.Int64("chat", 0, "chat id (reg)")
	stockID := flag.Int64("stock", 0, "stock id (place)")
	userID := flag.Int64("user", 0, "user id (place, accept)")
	offerID := flag.Int64("offer", 0, "offer id (accept, cancel)")
	amount := flag.Int("amount", 0, "share amount")
	price := flag.String("price", "", "price per share")
	side := flag.String("side", "", "buy | sell (place)")
	flag.Parse()

	cfg := config.MustLoad()

	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(log)

	pgClient := data.NewPostgresClient(cfg)
	defer pgClient.Close()

	pgRepo := postgres.NewPostgres(cfg, pgClient)
	exchangeSrv := exchangeService.New(cfg, pgRepo)

	ctx := utils.CreateCtxWithRqID(context.Background())

	if err := run(ctx, exchangeSrv, *op, *ticker, *name, *chatID, *stockID, *userID, *offerID, *amount, *price, *side); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %s\n", *op, err)
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	exchangeSrv *exchangeService.ExchangeService,
	op, ticker, name string,
	chatID, stockID, userID, offerID int64,
	amount int,
	price, side string,
) error {
	switch op {
	case "issue":
		priceDec, err := decimal.NewFromString(price)
		if err != nil {
			return fmt.Errorf("parse price: %w", err)
		}
		id, err := exchangeSrv.IssueStock(ctx, ticker, name, amount, priceDec)
		if err != nil {
			return err
		}
		fmt.Printf("stock issued: id=%d\n", id)

	case "reg":
		id, err := exchangeSrv.RegUser(ctx, chatID)
		if err != nil {
			return err
		}
		fmt.Printf("user registered: id=%d\n", id)

	case "place":
		priceDec, err := decimal.NewFromString(price)
		if err != nil {
			return fmt.Errorf("parse price: %w", err)
		}
		res, err := exchangeSrv.PlaceOrder(ctx, stockID, userID, amount, priceDec, model.OfferType(side))
		if err != nil {
			return err
		}
		if res.RestingOfferID != nil {
			fmt.Printf("filled %d, resting offer id=%d amount=%d\n", res.FilledAmount, *res.RestingOfferID, res.RestingAmount)
		} else {
			fmt.Printf("filled %d, fully matched\n", res.FilledAmount)
		}

	case "accept":
		var amountArg *int
		if amount != 0 {
			amountArg = &amount
		}
		if err := exchangeSrv.AcceptOffer(ctx, userID, offerID, amountArg); err != nil {
			return err
		}
		fmt.Println("offer accepted")

	case "cancel":
		if err := exchangeSrv.CancelOffer(ctx, offerID); err != nil {
			return err
		}
		fmt.Println("offer cancelled")

	default:
		return fmt.Errorf("unknown operation %q", op)
	}

	return nil
}
