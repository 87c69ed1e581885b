package main

import (
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkarpushin/stock_arena/config"
	"github.com/mkarpushin/stock_arena/data"
	"github.com/mkarpushin/stock_arena/data/cache"
	"github.com/mkarpushin/stock_arena/data/repository/postgres"
	"github.com/mkarpushin/stock_arena/internal/reportGenerator/xlsxGenerator"
	"github.com/mkarpushin/stock_arena/internal/scheduler"
	"github.com/mkarpushin/stock_arena/internal/service/battleService"
	"github.com/mkarpushin/stock_arena/internal/service/priceService"
)

func main() {
	cfg := config.MustLoad()

	setupLogger(cfg)

	slog.Debug("config", slog.Any("cfg", cfg))

	pgClient := data.NewPostgresClient(cfg)
	defer pgClient.Close()

	pgRepo := postgres.NewPostgres(cfg, pgClient)

	redisClient := data.NewRedisClient(cfg)
	defer redisClient.Close()

	redisCache := cache.NewRedisCache(redisClient, cfg)

	reportGenerator := xlsxGenerator.New()

	priceSrv := priceService.New(cfg, pgRepo, redisCache)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	battleSrv := battleService.New(cfg, pgRepo, redisCache, reportGenerator, rng)

	sched := scheduler.New()
	sched.NewIntervalJob("update average prices", priceSrv.UpdateAllAverages, cfg.Jobs.UpdatePricesInterval)
	sched.NewCrontabJob("battle royale round", battleSrv.RunRound, cfg.Jobs.BattleRoundCrontab)
	sched.Start()
	defer sched.Stop()

	// Waiting interruption signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-interrupt
}

func setupLogger(cfg *config.Config) {
	var logLevel slog.Level

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)
}
