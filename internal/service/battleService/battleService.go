package battleService

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/mkarpushin/stock_arena/config"
	"github.com/mkarpushin/stock_arena/data/repository"
	"github.com/mkarpushin/stock_arena/internal/model"
	"github.com/mkarpushin/stock_arena/internal/service"
	"github.com/mkarpushin/stock_arena/utils"
	"github.com/shopspring/decimal"
)

type Repository interface {
	WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error
	GetActiveStocks(ctx context.Context) ([]model.Stock, error)
	GetLastBankruptDate(ctx context.Context) (time.Time, error)
	GetTotalFloat(ctx context.Context, stockID int64) (int64, error)
	GetLatestAvgPrice(ctx context.Context, stockID int64) (model.AvgPrice, error)
	GetAvgPricesSince(ctx context.Context, stockID int64, since time.Time) ([]model.AvgPrice, error)
	MarkBankrupt(ctx context.Context, stockID int64, bankruptDate time.Time) error
	DeleteSharesByStock(ctx context.Context, stockID int64) error
	DeleteOffersByStock(ctx context.Context, stockID int64) error
	RaisePublicAmount(ctx context.Context, stockID int64, floor int) error
	GetPublicOffer(ctx context.Context, stockID int64) (model.TradeOffer, error)
	InsertOffer(ctx context.Context, stockID int64, writerID *int64, offerType model.OfferType, amount int, price decimal.Decimal) (offerID int64, err error)
	RaiseOfferAmount(ctx context.Context, offerID int64, floor int) error
}

type Cache interface {
	FlushStockPrice(ctx context.Context, stockID int64) error
}

type ReportGenerator interface {
	Generate(ctx context.Context, roundDate time.Time, standings []model.StockStanding) (fileBytes []byte, fileExtension string, err error)
}

type BattleService struct {
	cfg      *config.Config
	repo     Repository
	cache    Cache
	reporter ReportGenerator
	rng      *rand.Rand
	nowFn    func() time.Time
}

// New builds the battle service. The rng is passed in so rounds can be
// replayed with a fixed seed.
func New(cfg *config.Config, repo Repository, cache Cache, reporter ReportGenerator, rng *rand.Rand) *BattleService {
	return &BattleService{
		cfg:      cfg,
		repo:     repo,
		cache:    cache,
		reporter: reporter,
		rng:      rng,
		nowFn:    time.Now,
	}
}

// RunRound plays one battle royale round: scores every live stock on its
// normalized indicators, bankrupts the lowest one and replenishes public
// supply for the survivors. The whole round is one transaction; any failure
// leaves the market untouched.
func (s *BattleService) RunRound(ctx context.Context) (err error) {
	ctx = utils.CreateCtxWithRqID(ctx)
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "BattleService.RunRound"

	slog.Debug("RunRound start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		if err != nil {
			slog.Error("RunRound failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("RunRound finished", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	var standings []model.StockStanding
	var loserID int64

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		stocks, err := s.repo.GetActiveStocks(ctx)
		if err != nil {
			return err
		}
		if len(stocks) == 0 {
			return service.ErrNoEligibleStocks
		}

		standings, err = s.scoreStocks(ctx, stocks)
		if err != nil {
			return err
		}

		// минимальный score выбывает; при равенстве — меньший stock_id
		loser := &standings[0]
		for i := range standings {
			if standings[i].Score < loser.Score {
				loser = &standings[i]
			}
		}
		loser.Bankrupted = true
		loserID = loser.StockID

		if err = s.bankrupt(ctx, loser.StockID); err != nil {
			return err
		}

		return s.replenish(ctx, stocks, loser.StockID)
	})
	if err != nil {
		return err
	}

	slog.Info("battle round completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("bankruptedStockID", loserID))

	if err := s.cache.FlushStockPrice(ctx, loserID); err != nil {
		slog.Error("got error from cache.FlushStockPrice", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	s.writeRoundReport(ctx, standings)

	return nil
}

// scoreStocks computes the indicator tuple per stock, normalizes each
// indicator across the field and folds them into the weighted score.
func (s *BattleService) scoreStocks(ctx context.Context, stocks []model.Stock) ([]model.StockStanding, error) {
	since, err := s.repo.GetLastBankruptDate(ctx)
	if err != nil {
		return nil, err
	}

	standings := make([]model.StockStanding, 0, len(stocks))
	for _, stock := range stocks {
		totalFloat, err := s.repo.GetTotalFloat(ctx, stock.StockID)
		if err != nil {
			return nil, err
		}

		price := decimal.NewFromFloat(s.cfg.Market.DefaultPrice)
		rec, err := s.repo.GetLatestAvgPrice(ctx, stock.StockID)
		if err == nil {
			price = rec.Price
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}

		history, err := s.repo.GetAvgPricesSince(ctx, stock.StockID, since)
		if err != nil {
			return nil, err
		}

		standings = append(standings, model.StockStanding{
			StockID:      stock.StockID,
			Ticker:       stock.Ticker,
			MarketCap:    price.Mul(decimal.NewFromInt(totalFloat)).InexactFloat64(),
			StocksAmount: float64(stock.PublicAmount),
			Volatility:   priceStdDev(history),
			Fun:          s.rng.Float64(),
		})
	}

	caps := make([]float64, len(standings))
	amounts := make([]float64, len(standings))
	vols := make([]float64, len(standings))
	funs := make([]float64, len(standings))
	for i, st := range standings {
		caps[i] = st.MarketCap
		amounts[i] = st.StocksAmount
		vols[i] = st.Volatility
		funs[i] = st.Fun
	}

	normCaps := minMaxNormalize(caps)
	normAmounts := minMaxNormalize(amounts)
	normVols := minMaxNormalize(vols)
	normFuns := minMaxNormalize(funs)

	for i := range standings {
		standings[i].Score = s.cfg.Battle.MarketCapWeight*normCaps[i] +
			s.cfg.Battle.StocksAmountWeight*normAmounts[i] +
			s.cfg.Battle.VolatilityWeight*normVols[i] +
			s.cfg.Battle.FunWeight*normFuns[i]
	}

	return standings, nil
}

// bankrupt flags the stock, zeroes its float and cascades away its shares and
// offers.
func (s *BattleService) bankrupt(ctx context.Context, stockID int64) error {
	if err := s.repo.MarkBankrupt(ctx, stockID, s.nowFn()); err != nil {
		return err
	}
	if err := s.repo.DeleteSharesByStock(ctx, stockID); err != nil {
		return err
	}
	return s.repo.DeleteOffersByStock(ctx, stockID)
}

// replenish raises every survivor's public float to the configured floor and
// makes sure each has one public offering of at least that amount.
func (s *BattleService) replenish(ctx context.Context, stocks []model.Stock, loserID int64) error {
	floor := s.cfg.Battle.PublicFloor

	for _, stock := range stocks {
		if stock.StockID == loserID {
			continue
		}

		if err := s.repo.RaisePublicAmount(ctx, stock.StockID, floor); err != nil {
			return err
		}

		offer, err := s.repo.GetPublicOffer(ctx, stock.StockID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}

			price := decimal.NewFromFloat(s.cfg.Market.DefaultPrice)
			rec, err := s.repo.GetLatestAvgPrice(ctx, stock.StockID)
			if err == nil {
				price = rec.Price
			} else if !errors.Is(err, repository.ErrNotFound) {
				return err
			}

			if _, err = s.repo.InsertOffer(ctx, stock.StockID, nil, model.OfferTypePublic, floor, price); err != nil {
				return err
			}
			continue
		}

		if err = s.repo.RaiseOfferAmount(ctx, offer.OfferID, floor); err != nil {
			return err
		}
	}

	return nil
}

// writeRoundReport renders the standings and drops the file into the reports
// dir. Report trouble never fails a committed round.
func (s *BattleService) writeRoundReport(ctx context.Context, standings []model.StockStanding) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "BattleService.writeRoundReport"

	roundDate := s.nowFn()
	fileBytes, ext, err := s.reporter.Generate(ctx, roundDate, standings)
	if err != nil {
		slog.Error("got error from reporter.Generate", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return
	}

	fileName := fmt.Sprintf("battle_round_%s%s", roundDate.Format("20060102_150405"), ext)
	path := filepath.Join(s.cfg.Reports.Dir, fileName)
	if err := os.WriteFile(path, fileBytes, 0o644); err != nil {
		slog.Error("can't write round report", slog.String("rqID", rqID), slog.String("op", op), slog.String("path", path), slog.String("err", err.Error()))
		return
	}

	slog.Info("round report written", slog.String("rqID", rqID), slog.String("op", op), slog.String("path", path))
}

// minMaxNormalize scales values to [0, 1]. When all values are equal the
// range is zero and every value normalizes to 1.
func minMaxNormalize(values []float64) []float64 {
	normalized := make([]float64, len(values))
	if len(values) == 0 {
		return normalized
	}

	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	if max == min {
		for i := range normalized {
			normalized[i] = 1
		}
		return normalized
	}

	for i, v := range values {
		normalized[i] = (v - min) / (max - min)
	}
	return normalized
}

// priceStdDev is the population standard deviation of the history's prices.
func priceStdDev(history []model.AvgPrice) float64 {
	if len(history) < 2 {
		return 0
	}

	var sum float64
	for _, rec := range history {
		sum += rec.Price.InexactFloat64()
	}
	mean := sum / float64(len(history))

	var sqDiff float64
	for _, rec := range history {
		d := rec.Price.InexactFloat64() - mean
		sqDiff += d * d
	}

	return math.Sqrt(sqDiff / float64(len(history)))
}
