package dbConverter

import (
	"github.com/mkarpushin/stock_arena/internal/model"
	"github.com/mkarpushin/stock_arena/internal/model/dbModel"
)

func ConvertStock(dbStock dbModel.Stock) model.Stock {
	stock := model.Stock{
		StockID:      dbStock.StockID,
		Ticker:       dbStock.Ticker,
		Name:         dbStock.Name,
		Bankrupt:     dbStock.Bankrupt,
		PublicAmount: dbStock.PublicAmount,
	}
	if dbStock.BankruptDate.Valid {
		dt := dbStock.BankruptDate.Time
		stock.BankruptDate = &dt
	}
	return stock
}

func ConvertOffer(dbOffer dbModel.TradeOffer) model.TradeOffer {
	offer := model.TradeOffer{
		OfferID:   dbOffer.OfferID,
		StockID:   dbOffer.StockID,
		Type:      model.OfferType(dbOffer.Type),
		Amount:    dbOffer.Amount,
		Price:     dbOffer.Price,
		CreatedAt: dbOffer.CreatedAt,
	}
	if dbOffer.WriterID.Valid {
		writerID := dbOffer.WriterID.Int64
		offer.WriterID = &writerID
	}
	return offer
}

func ConvertTransaction(dbTx dbModel.Transaction) model.Transaction {
	tx := model.Transaction{
		TransactionID: dbTx.TransactionID,
		StockID:       dbTx.StockID,
		BuyerID:       dbTx.BuyerID,
		Amount:        dbTx.Amount,
		Price:         dbTx.Price,
		CreatedAt:     dbTx.CreatedAt,
	}
	if dbTx.SellerID.Valid {
		sellerID := dbTx.SellerID.Int64
		tx.SellerID = &sellerID
	}
	return tx
}

func ConvertAvgPrice(dbAvg dbModel.AvgPrice) model.AvgPrice {
	return model.AvgPrice{
		StockID:      dbAvg.StockID,
		SharesTraded: dbAvg.SharesTraded,
		Price:        dbAvg.Price,
		CreatedAt:    dbAvg.CreatedAt,
	}
}

func ConvertUser(dbUser dbModel.User) model.User {
	return model.User{
		UserID: dbUser.UserID,
		ChatID: dbUser.ChatID,
		Funds:  dbUser.Funds,
	}
}

func ConvertShare(dbShare dbModel.Share) model.Share {
	return model.Share{
		UserID:  dbShare.UserID,
		StockID: dbShare.StockID,
		Amount:  dbShare.Amount,
	}
}
