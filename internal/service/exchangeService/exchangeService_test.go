package exchangeService

import (
	"context"
	"errors"
	"testing"

	"github.com/mkarpushin/stock_arena/config"
	"github.com/mkarpushin/stock_arena/internal/model"
	"github.com/mkarpushin/stock_arena/internal/service"
	"github.com/mkarpushin/stock_arena/internal/service/servicetest"
	"github.com/shopspring/decimal"
)

func newTestService() (*ExchangeService, *servicetest.Ledger) {
	cfg := &config.Config{}
	cfg.Market.DefaultPrice = 10
	cfg.Market.StartingFunds = 1000

	ledger := servicetest.NewLedger()
	return New(cfg, ledger), ledger
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestIssueStock(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, err := svc.IssueStock(ctx, "ACME", "Acme Corp", 100, dec("25"))
	if err != nil {
		t.Fatalf("IssueStock: %v", err)
	}

	stock := ledger.Stock(stockID)
	if stock.Ticker != "ACME" || stock.PublicAmount != 100 {
		t.Fatalf("unexpected stock: %+v", stock)
	}

	offers := ledger.OffersByStock(stockID)
	if len(offers) != 1 {
		t.Fatalf("expected one public offering, got %d", len(offers))
	}
	if offers[0].Type != model.OfferTypePublic || offers[0].Amount != 100 || !offers[0].Price.Equal(dec("25")) {
		t.Fatalf("unexpected public offering: %+v", offers[0])
	}
	if offers[0].WriterID != nil {
		t.Fatal("public offering must have no writer")
	}

	if _, err = svc.IssueStock(ctx, "ACME", "Acme Again", 50, dec("30")); !errors.Is(err, service.ErrAlreadyExists) {
		t.Fatalf("duplicate ticker: want ErrAlreadyExists, got %v", err)
	}

	if _, err = svc.IssueStock(ctx, "", "No Ticker", 10, dec("5")); !errors.Is(err, service.ErrInvalidArgument) {
		t.Fatalf("empty ticker: want ErrInvalidArgument, got %v", err)
	}
	if _, err = svc.IssueStock(ctx, "ZERO", "Zero Float", 0, dec("5")); !errors.Is(err, service.ErrInvalidArgument) {
		t.Fatalf("zero float: want ErrInvalidArgument, got %v", err)
	}
	if _, err = svc.IssueStock(ctx, "FREE", "Free Shares", 10, dec("0")); !errors.Is(err, service.ErrInvalidArgument) {
		t.Fatalf("zero price: want ErrInvalidArgument, got %v", err)
	}
}

func TestRegUser(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	userID, err := svc.RegUser(ctx, 111)
	if err != nil {
		t.Fatalf("RegUser: %v", err)
	}
	if funds := ledger.User(userID).Funds; !funds.Equal(dec("1000")) {
		t.Fatalf("starting funds: want 1000, got %s", funds)
	}

	if _, err = svc.RegUser(ctx, 111); !errors.Is(err, service.ErrAlreadyExists) {
		t.Fatalf("duplicate chat: want ErrAlreadyExists, got %v", err)
	}
}

func TestPlaceOrderFillsBestPriceFirst(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("1000"))
	sellerOneID, _ := ledger.InsertUser(ctx, 2, dec("0"))
	sellerTwoID, _ := ledger.InsertUser(ctx, 3, dec("0"))
	ledger.SeedShare(sellerOneID, stockID, 5)
	ledger.SeedShare(sellerTwoID, stockID, 20)

	fundsBefore := ledger.TotalFunds()
	sharesBefore := ledger.TotalShares(stockID)

	// the worse price rests first: ordering must be by price, not arrival
	if _, err := svc.PlaceOrder(ctx, stockID, sellerTwoID, 20, dec("9"), model.OfferTypeSell); err != nil {
		t.Fatalf("place sell 20@9: %v", err)
	}
	if _, err := svc.PlaceOrder(ctx, stockID, sellerOneID, 5, dec("8"), model.OfferTypeSell); err != nil {
		t.Fatalf("place sell 5@8: %v", err)
	}

	res, err := svc.PlaceOrder(ctx, stockID, buyerID, 15, dec("10"), model.OfferTypeBuy)
	if err != nil {
		t.Fatalf("place buy 15@10: %v", err)
	}
	if res.FilledAmount != 15 {
		t.Fatalf("filled: want 15, got %d", res.FilledAmount)
	}
	if res.RestingOfferID != nil {
		t.Fatalf("fully filled order must not rest, got offer %d", *res.RestingOfferID)
	}

	// 5@8 + 10@9 = 130
	if funds := ledger.User(buyerID).Funds; !funds.Equal(dec("870")) {
		t.Fatalf("buyer funds: want 870, got %s", funds)
	}
	if funds := ledger.User(sellerOneID).Funds; !funds.Equal(dec("40")) {
		t.Fatalf("seller one funds: want 40, got %s", funds)
	}
	if funds := ledger.User(sellerTwoID).Funds; !funds.Equal(dec("90")) {
		t.Fatalf("seller two funds: want 90, got %s", funds)
	}
	if held := ledger.ShareAmount(buyerID, stockID); held != 15 {
		t.Fatalf("buyer shares: want 15, got %d", held)
	}

	offers := ledger.OffersByStock(stockID)
	if len(offers) != 1 || offers[0].Amount != 10 || !offers[0].Price.Equal(dec("9")) {
		t.Fatalf("expected residual sell 10@9, got %+v", offers)
	}

	if got := ledger.TotalFunds(); !got.Equal(fundsBefore) {
		t.Fatalf("user-to-user trades must conserve funds: before %s, after %s", fundsBefore, got)
	}
	if got := ledger.TotalShares(stockID); got != sharesBefore {
		t.Fatalf("trades must conserve shares: before %d, after %d", sharesBefore, got)
	}

	txs := ledger.Transactions()
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if txs[0].Amount != 5 || !txs[0].Price.Equal(dec("8")) {
		t.Fatalf("first fill must be 5@8, got %+v", txs[0])
	}
	if txs[1].Amount != 10 || !txs[1].Price.Equal(dec("9")) {
		t.Fatalf("second fill must be 10@9, got %+v", txs[1])
	}
}

func TestPlaceOrderBooksResidual(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("1000"))
	sellerID, _ := ledger.InsertUser(ctx, 2, dec("0"))
	ledger.SeedShare(sellerID, stockID, 5)

	if _, err := svc.PlaceOrder(ctx, stockID, sellerID, 5, dec("9"), model.OfferTypeSell); err != nil {
		t.Fatalf("place sell 5@9: %v", err)
	}

	res, err := svc.PlaceOrder(ctx, stockID, buyerID, 15, dec("10"), model.OfferTypeBuy)
	if err != nil {
		t.Fatalf("place buy 15@10: %v", err)
	}
	if res.FilledAmount != 5 || res.RestingAmount != 10 || res.RestingOfferID == nil {
		t.Fatalf("want fill 5 and resting 10, got %+v", res)
	}

	offer, ok := ledger.Offer(*res.RestingOfferID)
	if !ok {
		t.Fatal("resting offer not booked")
	}
	if offer.Type != model.OfferTypeBuy || offer.Amount != 10 || !offer.Price.Equal(dec("10")) {
		t.Fatalf("want resting buy 10@10, got %+v", offer)
	}
	if offer.WriterID == nil || *offer.WriterID != buyerID {
		t.Fatalf("resting offer writer: want %d, got %v", buyerID, offer.WriterID)
	}
}

func TestPlaceOrderSamePriceFirstComeFirstServed(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("1000"))
	sellerOneID, _ := ledger.InsertUser(ctx, 2, dec("0"))
	sellerTwoID, _ := ledger.InsertUser(ctx, 3, dec("0"))
	ledger.SeedShare(sellerOneID, stockID, 10)
	ledger.SeedShare(sellerTwoID, stockID, 10)

	if _, err := svc.PlaceOrder(ctx, stockID, sellerOneID, 10, dec("9"), model.OfferTypeSell); err != nil {
		t.Fatalf("place first sell: %v", err)
	}
	if _, err := svc.PlaceOrder(ctx, stockID, sellerTwoID, 10, dec("9"), model.OfferTypeSell); err != nil {
		t.Fatalf("place second sell: %v", err)
	}

	if _, err := svc.PlaceOrder(ctx, stockID, buyerID, 10, dec("9"), model.OfferTypeBuy); err != nil {
		t.Fatalf("place buy: %v", err)
	}

	// the earlier offer at the tied price fills first
	if funds := ledger.User(sellerOneID).Funds; !funds.Equal(dec("90")) {
		t.Fatalf("first seller must fill fully, funds %s", funds)
	}
	if funds := ledger.User(sellerTwoID).Funds; !funds.IsZero() {
		t.Fatalf("second seller must not fill, funds %s", funds)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	userID, _ := ledger.InsertUser(ctx, 1, dec("1000"))

	if _, err := svc.PlaceOrder(ctx, stockID, userID, 10, dec("5"), model.OfferTypePublic); !errors.Is(err, service.ErrInvalidOfferType) {
		t.Fatalf("public order type: want ErrInvalidOfferType, got %v", err)
	}
	if _, err := svc.PlaceOrder(ctx, stockID, userID, 0, dec("5"), model.OfferTypeBuy); !errors.Is(err, service.ErrInvalidArgument) {
		t.Fatalf("zero amount: want ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.PlaceOrder(ctx, stockID, userID, 10, dec("0"), model.OfferTypeBuy); !errors.Is(err, service.ErrInvalidArgument) {
		t.Fatalf("zero price: want ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.PlaceOrder(ctx, 999, userID, 10, dec("5"), model.OfferTypeBuy); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("unknown stock: want ErrNotFound, got %v", err)
	}
	if _, err := svc.PlaceOrder(ctx, stockID, 999, 10, dec("5"), model.OfferTypeBuy); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("unknown user: want ErrNotFound, got %v", err)
	}
}

func TestPlaceOrderBankruptStock(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "RIP", "Gone Corp", 0)
	userID, _ := ledger.InsertUser(ctx, 1, dec("1000"))
	if err := ledger.MarkBankrupt(ctx, stockID, svc.nowFn()); err != nil {
		t.Fatalf("MarkBankrupt: %v", err)
	}

	if _, err := svc.PlaceOrder(ctx, stockID, userID, 1, dec("5"), model.OfferTypeBuy); !errors.Is(err, service.ErrBankruptStock) {
		t.Fatalf("want ErrBankruptStock, got %v", err)
	}
}

func TestPlaceOrderInsufficientShares(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	sellerID, _ := ledger.InsertUser(ctx, 1, dec("0"))
	ledger.SeedShare(sellerID, stockID, 3)

	if _, err := svc.PlaceOrder(ctx, stockID, sellerID, 5, dec("9"), model.OfferTypeSell); !errors.Is(err, service.ErrInsufficientShares) {
		t.Fatalf("want ErrInsufficientShares, got %v", err)
	}
	if offers := ledger.OffersByStock(stockID); len(offers) != 0 {
		t.Fatalf("rejected order must not rest, got %+v", offers)
	}
}

func TestPlaceOrderFundsCheckCountsOpenBuys(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("100"))

	if _, err := svc.PlaceOrder(ctx, stockID, buyerID, 5, dec("10"), model.OfferTypeBuy); err != nil {
		t.Fatalf("first buy within funds: %v", err)
	}

	// 50 already committed, another 60 would exceed the 100 balance
	if _, err := svc.PlaceOrder(ctx, stockID, buyerID, 6, dec("10"), model.OfferTypeBuy); !errors.Is(err, service.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}

	// 50 more still fits
	if _, err := svc.PlaceOrder(ctx, stockID, buyerID, 5, dec("10"), model.OfferTypeBuy); err != nil {
		t.Fatalf("second buy within funds: %v", err)
	}
}

func TestPlaceOrderSweepsPublicOffering(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, err := svc.IssueStock(ctx, "ACME", "Acme Corp", 100, dec("5"))
	if err != nil {
		t.Fatalf("IssueStock: %v", err)
	}
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("1000"))
	sellerID, _ := ledger.InsertUser(ctx, 2, dec("0"))
	ledger.SeedShare(sellerID, stockID, 3)

	if _, err := svc.PlaceOrder(ctx, stockID, sellerID, 3, dec("4"), model.OfferTypeSell); err != nil {
		t.Fatalf("place sell 3@4: %v", err)
	}

	res, err := svc.PlaceOrder(ctx, stockID, buyerID, 10, dec("6"), model.OfferTypeBuy)
	if err != nil {
		t.Fatalf("place buy 10@6: %v", err)
	}
	if res.FilledAmount != 10 {
		t.Fatalf("filled: want 10, got %d", res.FilledAmount)
	}
	if res.RestingOfferID != nil {
		t.Fatalf("fully filled order must not rest, got offer %d", *res.RestingOfferID)
	}

	// 3@4 from the user sell, then 7@5 from the public float
	if held := ledger.ShareAmount(buyerID, stockID); held != 10 {
		t.Fatalf("buyer shares: want 10, got %d", held)
	}
	if public := ledger.Stock(stockID).PublicAmount; public != 93 {
		t.Fatalf("public float: want 93, got %d", public)
	}
	if funds := ledger.User(buyerID).Funds; !funds.Equal(dec("953")) {
		t.Fatalf("buyer funds: want 953, got %s", funds)
	}
	if funds := ledger.User(sellerID).Funds; !funds.Equal(dec("12")) {
		t.Fatalf("seller funds: want 12, got %s", funds)
	}
	// only the 35 paid into the float leaves the economy
	if got := ledger.TotalFunds(); !got.Equal(dec("965")) {
		t.Fatalf("total funds: want 965, got %s", got)
	}

	offer, err := ledger.GetPublicOffer(ctx, stockID)
	if err != nil {
		t.Fatalf("GetPublicOffer: %v", err)
	}
	if offer.Amount != 93 {
		t.Fatalf("public offering: want 93 left, got %d", offer.Amount)
	}

	txs := ledger.Transactions()
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if txs[0].Amount != 3 || !txs[0].Price.Equal(dec("4")) || txs[0].SellerID == nil {
		t.Fatalf("first fill must be 3@4 from the seller, got %+v", txs[0])
	}
	if txs[1].Amount != 7 || !txs[1].Price.Equal(dec("5")) || txs[1].SellerID != nil {
		t.Fatalf("second fill must be 7@5 sellerless, got %+v", txs[1])
	}
}

func TestPlaceOrderRollsBackWhenRestingBuyerCannotPay(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("100"))
	sellerID, _ := ledger.InsertUser(ctx, 2, dec("0"))
	ledger.SeedShare(sellerID, stockID, 10)

	res, err := svc.PlaceOrder(ctx, stockID, buyerID, 10, dec("10"), model.OfferTypeBuy)
	if err != nil {
		t.Fatalf("place buy 10@10: %v", err)
	}
	buyOfferID := *res.RestingOfferID

	// the buyer's balance evaporates after placement; nothing was escrowed
	if err := ledger.DeductFunds(ctx, buyerID, dec("100")); err != nil {
		t.Fatalf("DeductFunds: %v", err)
	}

	if _, err := svc.PlaceOrder(ctx, stockID, sellerID, 10, dec("9"), model.OfferTypeSell); !errors.Is(err, service.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}

	if held := ledger.ShareAmount(sellerID, stockID); held != 10 {
		t.Fatalf("seller shares after rollback: want 10, got %d", held)
	}
	if held := ledger.ShareAmount(buyerID, stockID); held != 0 {
		t.Fatalf("buyer shares after rollback: want 0, got %d", held)
	}
	if offer, ok := ledger.Offer(buyOfferID); !ok || offer.Amount != 10 {
		t.Fatalf("buy offer after rollback: want untouched 10, got %+v", offer)
	}
	if offers := ledger.OffersByStock(stockID); len(offers) != 1 {
		t.Fatalf("failed sell must not rest, got %+v", offers)
	}
	if txs := ledger.Transactions(); len(txs) != 0 {
		t.Fatalf("no transaction must be recorded, got %d", len(txs))
	}
}

type callOrderRepo struct {
	*servicetest.Ledger
	calls []string
}

func (r *callOrderRepo) GetMatchingOffers(ctx context.Context, stockID int64, orderType model.OfferType, price decimal.Decimal) ([]model.TradeOffer, error) {
	r.calls = append(r.calls, "GetMatchingOffers")
	return r.Ledger.GetMatchingOffers(ctx, stockID, orderType, price)
}

func (r *callOrderRepo) GetOfferForUpdate(ctx context.Context, offerID int64) (model.TradeOffer, error) {
	r.calls = append(r.calls, "GetOfferForUpdate")
	return r.Ledger.GetOfferForUpdate(ctx, offerID)
}

func (r *callOrderRepo) GetUserForUpdate(ctx context.Context, userID int64) (model.User, error) {
	r.calls = append(r.calls, "GetUserForUpdate")
	return r.Ledger.GetUserForUpdate(ctx, userID)
}

func (r *callOrderRepo) indexOf(call string) int {
	for i, c := range r.calls {
		if c == call {
			return i
		}
	}
	return -1
}

// Offer rows lock before user rows in every operation, so two concurrent
// operations on the same offer and user never wait on each other in opposite
// order.
func TestRowLockOrderOffersBeforeUsers(t *testing.T) {
	cfg := &config.Config{}
	cfg.Market.DefaultPrice = 10
	cfg.Market.StartingFunds = 1000

	ledger := servicetest.NewLedger()
	repo := &callOrderRepo{Ledger: ledger}
	svc := New(cfg, repo)
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("1000"))
	sellerID, _ := ledger.InsertUser(ctx, 2, dec("0"))
	ledger.SeedShare(sellerID, stockID, 10)

	res, err := svc.PlaceOrder(ctx, stockID, sellerID, 10, dec("9"), model.OfferTypeSell)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}
	if mo, u := repo.indexOf("GetMatchingOffers"), repo.indexOf("GetUserForUpdate"); mo == -1 || u == -1 || mo > u {
		t.Fatalf("PlaceOrder must lock offers before the writer row, calls: %v", repo.calls)
	}

	repo.calls = nil
	if err := svc.AcceptOffer(ctx, buyerID, *res.RestingOfferID, nil); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if o, u := repo.indexOf("GetOfferForUpdate"), repo.indexOf("GetUserForUpdate"); o == -1 || u == -1 || o > u {
		t.Fatalf("AcceptOffer must lock the offer before the acceptor row, calls: %v", repo.calls)
	}
}

func TestAcceptOfferFullAndPartial(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("1000"))
	sellerID, _ := ledger.InsertUser(ctx, 2, dec("0"))
	ledger.SeedShare(sellerID, stockID, 20)

	res, err := svc.PlaceOrder(ctx, stockID, sellerID, 20, dec("9"), model.OfferTypeSell)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}
	offerID := *res.RestingOfferID

	partial := 5
	if err := svc.AcceptOffer(ctx, buyerID, offerID, &partial); err != nil {
		t.Fatalf("partial accept: %v", err)
	}
	offer, ok := ledger.Offer(offerID)
	if !ok || offer.Amount != 15 {
		t.Fatalf("offer after partial accept: want 15 left, got %+v", offer)
	}
	if held := ledger.ShareAmount(buyerID, stockID); held != 5 {
		t.Fatalf("buyer shares after partial accept: want 5, got %d", held)
	}

	// over-ask is capped at the remainder
	tooMany := 100
	if err := svc.AcceptOffer(ctx, buyerID, offerID, &tooMany); err != nil {
		t.Fatalf("capped accept: %v", err)
	}
	if _, ok := ledger.Offer(offerID); ok {
		t.Fatal("fully consumed offer must be removed")
	}
	if held := ledger.ShareAmount(buyerID, stockID); held != 20 {
		t.Fatalf("buyer shares after full accept: want 20, got %d", held)
	}
	if funds := ledger.User(sellerID).Funds; !funds.Equal(dec("180")) {
		t.Fatalf("seller funds: want 180, got %s", funds)
	}
}

func TestAcceptOfferDefaultsToFullAmount(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("1000"))
	sellerID, _ := ledger.InsertUser(ctx, 2, dec("0"))
	ledger.SeedShare(sellerID, stockID, 10)

	res, err := svc.PlaceOrder(ctx, stockID, sellerID, 10, dec("9"), model.OfferTypeSell)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}

	if err := svc.AcceptOffer(ctx, buyerID, *res.RestingOfferID, nil); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, ok := ledger.Offer(*res.RestingOfferID); ok {
		t.Fatal("offer must be fully consumed")
	}
	if held := ledger.ShareAmount(buyerID, stockID); held != 10 {
		t.Fatalf("buyer shares: want 10, got %d", held)
	}
}

func TestAcceptOfferErrors(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("1000"))
	sellerID, _ := ledger.InsertUser(ctx, 2, dec("0"))
	ledger.SeedShare(sellerID, stockID, 10)

	res, err := svc.PlaceOrder(ctx, stockID, sellerID, 10, dec("9"), model.OfferTypeSell)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}
	offerID := *res.RestingOfferID

	zero := 0
	if err := svc.AcceptOffer(ctx, buyerID, offerID, &zero); !errors.Is(err, service.ErrInvalidArgument) {
		t.Fatalf("zero amount: want ErrInvalidArgument, got %v", err)
	}
	if err := svc.AcceptOffer(ctx, buyerID, 999, nil); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("unknown offer: want ErrNotFound, got %v", err)
	}
	if err := svc.AcceptOffer(ctx, 999, offerID, nil); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("unknown acceptor: want ErrNotFound, got %v", err)
	}
}

func TestAcceptOfferRollsBackOnInsufficientFunds(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("10"))
	sellerID, _ := ledger.InsertUser(ctx, 2, dec("0"))
	ledger.SeedShare(sellerID, stockID, 10)

	res, err := svc.PlaceOrder(ctx, stockID, sellerID, 10, dec("9"), model.OfferTypeSell)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}

	// shares move before funds; the funds failure must undo the share move too
	if err := svc.AcceptOffer(ctx, buyerID, *res.RestingOfferID, nil); !errors.Is(err, service.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if held := ledger.ShareAmount(sellerID, stockID); held != 10 {
		t.Fatalf("seller shares after rollback: want 10, got %d", held)
	}
	if held := ledger.ShareAmount(buyerID, stockID); held != 0 {
		t.Fatalf("buyer shares after rollback: want 0, got %d", held)
	}
	if offer, ok := ledger.Offer(*res.RestingOfferID); !ok || offer.Amount != 10 {
		t.Fatalf("offer after rollback: want untouched 10, got %+v", offer)
	}
	if txs := ledger.Transactions(); len(txs) != 0 {
		t.Fatalf("no transaction must be recorded, got %d", len(txs))
	}
}

func TestAcceptBuyOfferMovesSharesToWriter(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("1000"))
	holderID, _ := ledger.InsertUser(ctx, 2, dec("0"))
	ledger.SeedShare(holderID, stockID, 10)

	res, err := svc.PlaceOrder(ctx, stockID, buyerID, 10, dec("9"), model.OfferTypeBuy)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}

	if err := svc.AcceptOffer(ctx, holderID, *res.RestingOfferID, nil); err != nil {
		t.Fatalf("accept buy offer: %v", err)
	}
	if held := ledger.ShareAmount(buyerID, stockID); held != 10 {
		t.Fatalf("buy writer shares: want 10, got %d", held)
	}
	if funds := ledger.User(holderID).Funds; !funds.Equal(dec("90")) {
		t.Fatalf("acceptor funds: want 90, got %s", funds)
	}
	if funds := ledger.User(buyerID).Funds; !funds.Equal(dec("910")) {
		t.Fatalf("writer funds: want 910, got %s", funds)
	}
}

func TestAcceptPublicOfferingAbsorbsFunds(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, err := svc.IssueStock(ctx, "ACME", "Acme Corp", 100, dec("25"))
	if err != nil {
		t.Fatalf("IssueStock: %v", err)
	}
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("1000"))

	offer, err := ledger.GetPublicOffer(ctx, stockID)
	if err != nil {
		t.Fatalf("GetPublicOffer: %v", err)
	}

	amount := 4
	if err := svc.AcceptOffer(ctx, buyerID, offer.OfferID, &amount); err != nil {
		t.Fatalf("accept public offering: %v", err)
	}

	// 4*25 leaves the economy entirely
	if funds := ledger.User(buyerID).Funds; !funds.Equal(dec("900")) {
		t.Fatalf("buyer funds: want 900, got %s", funds)
	}
	if got := ledger.TotalFunds(); !got.Equal(dec("900")) {
		t.Fatalf("proceeds must be absorbed, total funds %s", got)
	}
	if held := ledger.ShareAmount(buyerID, stockID); held != 4 {
		t.Fatalf("buyer shares: want 4, got %d", held)
	}
	if public := ledger.Stock(stockID).PublicAmount; public != 96 {
		t.Fatalf("public float: want 96, got %d", public)
	}
	// the total float is unchanged: shares moved from public to a holder
	if total := ledger.TotalShares(stockID); total != 100 {
		t.Fatalf("total float: want 100, got %d", total)
	}

	txs := ledger.Transactions()
	if len(txs) != 1 || txs[0].SellerID != nil {
		t.Fatalf("public sale must record a sellerless transaction, got %+v", txs)
	}
}

func TestAcceptPublicOfferingExhaustedFloat(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, err := svc.IssueStock(ctx, "ACME", "Acme Corp", 5, dec("10"))
	if err != nil {
		t.Fatalf("IssueStock: %v", err)
	}
	buyerID, _ := ledger.InsertUser(ctx, 1, dec("1000"))

	offer, _ := ledger.GetPublicOffer(ctx, stockID)

	// drain the float behind the offer's back
	if err := ledger.DecrementPublicAmount(ctx, stockID, 5); err != nil {
		t.Fatalf("DecrementPublicAmount: %v", err)
	}

	if err := svc.AcceptOffer(ctx, buyerID, offer.OfferID, nil); !errors.Is(err, service.ErrNoPublicShares) {
		t.Fatalf("want ErrNoPublicShares, got %v", err)
	}
	if held := ledger.ShareAmount(buyerID, stockID); held != 0 {
		t.Fatalf("no shares must move, got %d", held)
	}
}

func TestCancelOffer(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, _ := ledger.InsertStock(ctx, "ACME", "Acme Corp", 0)
	sellerID, _ := ledger.InsertUser(ctx, 1, dec("0"))
	ledger.SeedShare(sellerID, stockID, 10)

	res, err := svc.PlaceOrder(ctx, stockID, sellerID, 10, dec("9"), model.OfferTypeSell)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}

	if err := svc.CancelOffer(ctx, *res.RestingOfferID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := ledger.Offer(*res.RestingOfferID); ok {
		t.Fatal("cancelled offer must be removed")
	}
	// holdings stay put, nothing was escrowed
	if held := ledger.ShareAmount(sellerID, stockID); held != 10 {
		t.Fatalf("seller shares after cancel: want 10, got %d", held)
	}

	if err := svc.CancelOffer(ctx, *res.RestingOfferID); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("double cancel: want ErrNotFound, got %v", err)
	}
}

func TestCancelPublicOfferingRefused(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	stockID, err := svc.IssueStock(ctx, "ACME", "Acme Corp", 100, dec("25"))
	if err != nil {
		t.Fatalf("IssueStock: %v", err)
	}
	offer, _ := ledger.GetPublicOffer(ctx, stockID)

	if err := svc.CancelOffer(ctx, offer.OfferID); !errors.Is(err, service.ErrInvalidOfferType) {
		t.Fatalf("want ErrInvalidOfferType, got %v", err)
	}
	if _, ok := ledger.Offer(offer.OfferID); !ok {
		t.Fatal("public offering must survive the refused cancel")
	}
}
