package model

// StockStanding is one row of a battle round result, used for the standings
// report.
type StockStanding struct {
	StockID      int64
	Ticker       string
	MarketCap    float64
	StocksAmount float64
	Volatility   float64
	Fun          float64
	Score        float64
	Bankrupted   bool
}
