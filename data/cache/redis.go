package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mkarpushin/stock_arena/config"
	"github.com/mkarpushin/stock_arena/utils"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type RedisCache struct {
	redis *redis.Client
	cfg   *config.Config
}

func NewRedisCache(redisClient *redis.Client, cfg *config.Config) *RedisCache {
	return &RedisCache{redis: redisClient, cfg: cfg}
}

func priceKey(stockID int64) string {
	return fmt.Sprintf("avg_price:%d", stockID)
}

func (r *RedisCache) SetStockPrice(ctx context.Context, stockID int64, price decimal.Decimal) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("SetStockPrice start", slog.String("rqID", rqID), slog.Int64("stockID", stockID))

	_, err := r.redis.Set(ctx, priceKey(stockID), price.String(), r.cfg.Cache.PricesExpiration).Result()
	if err != nil {
		slog.Error("failed on redis.Set", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.Int64("stockID", stockID))
		return err
	}

	slog.Debug("SetStockPrice completed", slog.String("rqID", rqID))

	return nil
}

func (r *RedisCache) GetStockPrice(ctx context.Context, stockID int64) (decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("GetStockPrice start", slog.String("rqID", rqID), slog.Int64("stockID", stockID))

	res, err := r.redis.Get(ctx, priceKey(stockID)).Result()
	if err != nil {
		slog.Warn("failed on redis.Get", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.Int64("stockID", stockID))
		return decimal.Decimal{}, err
	}

	price, err := decimal.NewFromString(res)
	if err != nil {
		slog.Error("can't parse cached price", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("resultFromRedis", res))
		return decimal.Decimal{}, err
	}

	slog.Debug("GetStockPrice finished", slog.String("rqID", rqID))

	return price, nil
}

func (r *RedisCache) FlushStockPrice(ctx context.Context, stockID int64) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("FlushStockPrice start", slog.String("rqID", rqID), slog.Int64("stockID", stockID))

	_, err := r.redis.Del(ctx, priceKey(stockID)).Result()
	if err != nil {
		slog.Error("failed on redis.Del", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.Int64("stockID", stockID))
		return err
	}

	slog.Debug("FlushStockPrice completed", slog.String("rqID", rqID))

	return nil
}
