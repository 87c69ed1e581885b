package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL"`
	Postgres Postgres
	Redis    Redis
	Cache    Cache
	Jobs     Jobs
	Market   Market
	Battle   Battle
	Reports  Reports
}

type Postgres struct {
	Host            string `env:"PG_HOST"`
	Port            int    `env:"PG_PORT"`
	DbName          string `env:"PG_DB_NAME"`
	Password        string `env:"PG_PASSWORD"`
	User            string `env:"PG_USER"`
	MaxOpenConns    int    `env:"PG_MAX_OPEN_CONNS"`
	ConnMaxLifetime int    `env:"PG_CONN_MAX_LIFETIME"`
	MaxIdleConns    int    `env:"PG_MAX_IDLE_CONNS"`
	ConnMaxIdleTime int    `env:"PG_CONN_MAX_IDLE_TIME"`
	MigrationDir    string `env:"PG_MIGRATION_DIR"`
}

type Redis struct {
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"`
}

type Cache struct {
	PricesExpiration time.Duration `env:"CACHE_PRICES_EXPIRATION"`
}

type Jobs struct {
	UpdatePricesInterval time.Duration `env:"UPDATE_PRICES_JOB_INTERVAL"`
	BattleRoundCrontab   string        `env:"BATTLE_ROUND_JOB_CRONTAB"`
}

type Market struct {
	DefaultPrice  float64 `env:"MARKET_DEFAULT_PRICE"`
	StartingFunds float64 `env:"MARKET_STARTING_FUNDS"`
}

type Battle struct {
	MarketCapWeight    float64 `env:"BATTLE_MARKET_CAP_WEIGHT"`
	StocksAmountWeight float64 `env:"BATTLE_STOCKS_AMOUNT_WEIGHT"`
	VolatilityWeight   float64 `env:"BATTLE_VOLATILITY_WEIGHT"`
	FunWeight          float64 `env:"BATTLE_FUN_WEIGHT"`
	PublicFloor        int     `env:"BATTLE_PUBLIC_FLOOR"`
}

type Reports struct {
	Dir string `env:"REPORTS_DIR"`
}

func MustLoad() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{}

	opts := env.Options{RequiredIfNoDef: true}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		log.Fatalf("parse config error: %s", err)
	}

	return cfg
}
