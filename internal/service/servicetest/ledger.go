// Package servicetest provides an in-memory ledger used by the service test
// suites. It mirrors the postgres repository semantics, including sentinel
// errors and transaction rollback.
package servicetest

import (
	"context"
	"sort"
	"time"

	"github.com/mkarpushin/stock_arena/data/repository"
	"github.com/mkarpushin/stock_arena/internal/model"
	"github.com/shopspring/decimal"
)

type shareKey struct {
	userID  int64
	stockID int64
}

type Ledger struct {
	Now func() time.Time

	stocks map[int64]model.Stock
	shares map[shareKey]int
	offers map[int64]model.TradeOffer
	users  map[int64]model.User
	txs    []model.Transaction
	avgs   map[int64][]model.AvgPrice

	nextStockID int64
	nextOfferID int64
	nextUserID  int64
	nextTxID    int64
}

func NewLedger() *Ledger {
	return &Ledger{
		Now:    time.Now,
		stocks: make(map[int64]model.Stock),
		shares: make(map[shareKey]int),
		offers: make(map[int64]model.TradeOffer),
		users:  make(map[int64]model.User),
		avgs:   make(map[int64][]model.AvgPrice),
	}
}

type snapshot struct {
	stocks map[int64]model.Stock
	shares map[shareKey]int
	offers map[int64]model.TradeOffer
	users  map[int64]model.User
	txs    []model.Transaction
	avgs   map[int64][]model.AvgPrice

	nextStockID int64
	nextOfferID int64
	nextUserID  int64
	nextTxID    int64
}

func (l *Ledger) snapshot() snapshot {
	s := snapshot{
		stocks:      make(map[int64]model.Stock, len(l.stocks)),
		shares:      make(map[shareKey]int, len(l.shares)),
		offers:      make(map[int64]model.TradeOffer, len(l.offers)),
		users:       make(map[int64]model.User, len(l.users)),
		txs:         append([]model.Transaction(nil), l.txs...),
		avgs:        make(map[int64][]model.AvgPrice, len(l.avgs)),
		nextStockID: l.nextStockID,
		nextOfferID: l.nextOfferID,
		nextUserID:  l.nextUserID,
		nextTxID:    l.nextTxID,
	}
	for k, v := range l.stocks {
		s.stocks[k] = v
	}
	for k, v := range l.shares {
		s.shares[k] = v
	}
	for k, v := range l.offers {
		s.offers[k] = v
	}
	for k, v := range l.users {
		s.users[k] = v
	}
	for k, v := range l.avgs {
		s.avgs[k] = append([]model.AvgPrice(nil), v...)
	}
	return s
}

func (l *Ledger) restore(s snapshot) {
	l.stocks = s.stocks
	l.shares = s.shares
	l.offers = s.offers
	l.users = s.users
	l.txs = s.txs
	l.avgs = s.avgs
	l.nextStockID = s.nextStockID
	l.nextOfferID = s.nextOfferID
	l.nextUserID = s.nextUserID
	l.nextTxID = s.nextTxID
}

// WithinTransaction snapshots the ledger and restores it when tFunc fails:
// same all-or-nothing behavior the postgres repository gets from an actual
// transaction.
func (l *Ledger) WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error {
	snap := l.snapshot()
	if err := tFunc(ctx); err != nil {
		l.restore(snap)
		return err
	}
	return nil
}

// ---- stocks ----

func (l *Ledger) InsertStock(ctx context.Context, ticker, name string, publicAmount int) (int64, error) {
	for _, stock := range l.stocks {
		if stock.Ticker == ticker {
			return 0, repository.ErrAlreadyExists
		}
	}
	l.nextStockID++
	l.stocks[l.nextStockID] = model.Stock{
		StockID:      l.nextStockID,
		Ticker:       ticker,
		Name:         name,
		PublicAmount: publicAmount,
	}
	return l.nextStockID, nil
}

func (l *Ledger) GetStock(ctx context.Context, stockID int64) (model.Stock, error) {
	stock, ok := l.stocks[stockID]
	if !ok {
		return model.Stock{}, repository.ErrNotFound
	}
	return stock, nil
}

func (l *Ledger) GetActiveStocks(ctx context.Context) ([]model.Stock, error) {
	var stocks []model.Stock
	for _, stock := range l.stocks {
		if !stock.Bankrupt {
			stocks = append(stocks, stock)
		}
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].StockID < stocks[j].StockID })
	return stocks, nil
}

func (l *Ledger) MarkBankrupt(ctx context.Context, stockID int64, bankruptDate time.Time) error {
	stock, ok := l.stocks[stockID]
	if !ok {
		return repository.ErrNotFound
	}
	stock.Bankrupt = true
	stock.BankruptDate = &bankruptDate
	stock.PublicAmount = 0
	l.stocks[stockID] = stock
	return nil
}

func (l *Ledger) RaisePublicAmount(ctx context.Context, stockID int64, floor int) error {
	stock, ok := l.stocks[stockID]
	if !ok {
		return repository.ErrNotFound
	}
	if stock.PublicAmount < floor {
		stock.PublicAmount = floor
		l.stocks[stockID] = stock
	}
	return nil
}

func (l *Ledger) DecrementPublicAmount(ctx context.Context, stockID int64, amount int) error {
	stock, ok := l.stocks[stockID]
	if !ok || stock.PublicAmount < amount {
		return repository.ErrNoPublicShares
	}
	stock.PublicAmount -= amount
	l.stocks[stockID] = stock
	return nil
}

func (l *Ledger) GetTotalFloat(ctx context.Context, stockID int64) (int64, error) {
	stock, ok := l.stocks[stockID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	total := int64(stock.PublicAmount)
	for key, amount := range l.shares {
		if key.stockID == stockID {
			total += int64(amount)
		}
	}
	return total, nil
}

func (l *Ledger) GetLastBankruptDate(ctx context.Context) (time.Time, error) {
	var last time.Time
	for _, stock := range l.stocks {
		if stock.Bankrupt && stock.BankruptDate != nil && stock.BankruptDate.After(last) {
			last = *stock.BankruptDate
		}
	}
	return last, nil
}

// ---- users ----

func (l *Ledger) InsertUser(ctx context.Context, chatID int64, funds decimal.Decimal) (int64, error) {
	for _, user := range l.users {
		if user.ChatID == chatID {
			return 0, repository.ErrAlreadyExists
		}
	}
	l.nextUserID++
	l.users[l.nextUserID] = model.User{UserID: l.nextUserID, ChatID: chatID, Funds: funds}
	return l.nextUserID, nil
}

func (l *Ledger) GetUser(ctx context.Context, userID int64) (model.User, error) {
	user, ok := l.users[userID]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return user, nil
}

func (l *Ledger) GetUserForUpdate(ctx context.Context, userID int64) (model.User, error) {
	return l.GetUser(ctx, userID)
}

func (l *Ledger) AddFunds(ctx context.Context, userID int64, value decimal.Decimal) error {
	user, ok := l.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	user.Funds = user.Funds.Add(value)
	l.users[userID] = user
	return nil
}

func (l *Ledger) DeductFunds(ctx context.Context, userID int64, value decimal.Decimal) error {
	user, ok := l.users[userID]
	if !ok || user.Funds.LessThan(value) {
		return repository.ErrInsufficientFunds
	}
	user.Funds = user.Funds.Sub(value)
	l.users[userID] = user
	return nil
}

// ---- shares ----

func (l *Ledger) GetShare(ctx context.Context, userID, stockID int64) (model.Share, error) {
	amount, ok := l.shares[shareKey{userID, stockID}]
	if !ok {
		return model.Share{}, repository.ErrNotFound
	}
	return model.Share{UserID: userID, StockID: stockID, Amount: amount}, nil
}

func (l *Ledger) AddShares(ctx context.Context, userID, stockID int64, amount int) error {
	l.shares[shareKey{userID, stockID}] += amount
	return nil
}

func (l *Ledger) RemoveShares(ctx context.Context, userID, stockID int64, amount int) error {
	key := shareKey{userID, stockID}
	held, ok := l.shares[key]
	if !ok || held < amount {
		return repository.ErrInsufficientShares
	}
	if held == amount {
		delete(l.shares, key)
	} else {
		l.shares[key] = held - amount
	}
	return nil
}

func (l *Ledger) DeleteSharesByStock(ctx context.Context, stockID int64) error {
	for key := range l.shares {
		if key.stockID == stockID {
			delete(l.shares, key)
		}
	}
	return nil
}

// ---- offers ----

func (l *Ledger) InsertOffer(ctx context.Context, stockID int64, writerID *int64, offerType model.OfferType, amount int, price decimal.Decimal) (int64, error) {
	l.nextOfferID++
	l.offers[l.nextOfferID] = model.TradeOffer{
		OfferID:   l.nextOfferID,
		StockID:   stockID,
		WriterID:  writerID,
		Type:      offerType,
		Amount:    amount,
		Price:     price,
		CreatedAt: l.Now(),
	}
	return l.nextOfferID, nil
}

func (l *Ledger) GetOffer(ctx context.Context, offerID int64) (model.TradeOffer, error) {
	offer, ok := l.offers[offerID]
	if !ok {
		return model.TradeOffer{}, repository.ErrNotFound
	}
	return offer, nil
}

func (l *Ledger) GetOfferForUpdate(ctx context.Context, offerID int64) (model.TradeOffer, error) {
	return l.GetOffer(ctx, offerID)
}

func (l *Ledger) GetMatchingOffers(ctx context.Context, stockID int64, orderType model.OfferType, price decimal.Decimal) ([]model.TradeOffer, error) {
	var offers []model.TradeOffer
	for _, offer := range l.offers {
		if offer.StockID != stockID {
			continue
		}
		switch orderType {
		case model.OfferTypeBuy:
			if (offer.Type == model.OfferTypeSell || offer.Type == model.OfferTypePublic) && offer.Price.LessThanOrEqual(price) {
				offers = append(offers, offer)
			}
		case model.OfferTypeSell:
			if offer.Type == model.OfferTypeBuy && offer.Price.GreaterThanOrEqual(price) {
				offers = append(offers, offer)
			}
		}
	}

	sort.Slice(offers, func(i, j int) bool {
		cmp := offers[i].Price.Cmp(offers[j].Price)
		if cmp == 0 {
			return offers[i].OfferID < offers[j].OfferID
		}
		if orderType == model.OfferTypeBuy {
			return cmp < 0
		}
		return cmp > 0
	})

	return offers, nil
}

func (l *Ledger) ReduceOfferAmount(ctx context.Context, offerID int64, amount int) error {
	offer, ok := l.offers[offerID]
	if !ok || offer.Amount < amount {
		return repository.ErrNotFound
	}
	if offer.Amount == amount {
		delete(l.offers, offerID)
	} else {
		offer.Amount -= amount
		l.offers[offerID] = offer
	}
	return nil
}

func (l *Ledger) DeleteOffer(ctx context.Context, offerID int64) error {
	if _, ok := l.offers[offerID]; !ok {
		return repository.ErrNotFound
	}
	delete(l.offers, offerID)
	return nil
}

func (l *Ledger) DeleteOffersByStock(ctx context.Context, stockID int64) error {
	for offerID, offer := range l.offers {
		if offer.StockID == stockID {
			delete(l.offers, offerID)
		}
	}
	return nil
}

func (l *Ledger) GetBuyCommitment(ctx context.Context, userID int64) (decimal.Decimal, error) {
	committed := decimal.Decimal{}
	for _, offer := range l.offers {
		if offer.Type == model.OfferTypeBuy && offer.WriterID != nil && *offer.WriterID == userID {
			committed = committed.Add(offer.Price.Mul(decimal.NewFromInt(int64(offer.Amount))))
		}
	}
	return committed, nil
}

func (l *Ledger) GetPublicOffer(ctx context.Context, stockID int64) (model.TradeOffer, error) {
	for _, offer := range l.offers {
		if offer.StockID == stockID && offer.Type == model.OfferTypePublic {
			return offer, nil
		}
	}
	return model.TradeOffer{}, repository.ErrNotFound
}

func (l *Ledger) RaiseOfferAmount(ctx context.Context, offerID int64, floor int) error {
	offer, ok := l.offers[offerID]
	if !ok {
		return repository.ErrNotFound
	}
	if offer.Amount < floor {
		offer.Amount = floor
		l.offers[offerID] = offer
	}
	return nil
}

// ---- transactions / avg prices ----

func (l *Ledger) InsertTransaction(ctx context.Context, tx model.Transaction) error {
	l.nextTxID++
	tx.TransactionID = l.nextTxID
	l.txs = append(l.txs, tx)
	return nil
}

func (l *Ledger) GetTransactionsSince(ctx context.Context, stockID int64, since time.Time) ([]model.Transaction, error) {
	var txs []model.Transaction
	for _, tx := range l.txs {
		if tx.StockID == stockID && tx.CreatedAt.After(since) {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (l *Ledger) InsertAvgPrice(ctx context.Context, rec model.AvgPrice) error {
	l.avgs[rec.StockID] = append(l.avgs[rec.StockID], rec)
	return nil
}

func (l *Ledger) GetLatestAvgPrice(ctx context.Context, stockID int64) (model.AvgPrice, error) {
	recs := l.avgs[stockID]
	if len(recs) == 0 {
		return model.AvgPrice{}, repository.ErrNotFound
	}
	return recs[len(recs)-1], nil
}

func (l *Ledger) GetAvgPricesSince(ctx context.Context, stockID int64, since time.Time) ([]model.AvgPrice, error) {
	var recs []model.AvgPrice
	for _, rec := range l.avgs[stockID] {
		if rec.CreatedAt.After(since) {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// ---- inspection helpers for tests ----

func (l *Ledger) Stock(stockID int64) model.Stock {
	return l.stocks[stockID]
}

func (l *Ledger) User(userID int64) model.User {
	return l.users[userID]
}

func (l *Ledger) Offer(offerID int64) (model.TradeOffer, bool) {
	offer, ok := l.offers[offerID]
	return offer, ok
}

func (l *Ledger) OffersByStock(stockID int64) []model.TradeOffer {
	var offers []model.TradeOffer
	for _, offer := range l.offers {
		if offer.StockID == stockID {
			offers = append(offers, offer)
		}
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].OfferID < offers[j].OfferID })
	return offers
}

func (l *Ledger) Transactions() []model.Transaction {
	return append([]model.Transaction(nil), l.txs...)
}

func (l *Ledger) ShareAmount(userID, stockID int64) int {
	return l.shares[shareKey{userID, stockID}]
}

// TotalShares sums the stock's shares held by users plus its public float.
func (l *Ledger) TotalShares(stockID int64) int64 {
	total, _ := l.GetTotalFloat(context.Background(), stockID)
	return total
}

// TotalFunds sums every user's balance.
func (l *Ledger) TotalFunds() decimal.Decimal {
	total := decimal.Decimal{}
	for _, user := range l.users {
		total = total.Add(user.Funds)
	}
	return total
}

// SeedShare sets a holding directly, bypassing settlement.
func (l *Ledger) SeedShare(userID, stockID int64, amount int) {
	l.shares[shareKey{userID, stockID}] = amount
}

// SeedAvgPrice appends a history point directly.
func (l *Ledger) SeedAvgPrice(stockID int64, sharesTraded uint64, price decimal.Decimal, createdAt time.Time) {
	l.avgs[stockID] = append(l.avgs[stockID], model.AvgPrice{
		StockID:      stockID,
		SharesTraded: sharesTraded,
		Price:        price,
		CreatedAt:    createdAt,
	})
}
