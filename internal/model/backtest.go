package model

import "time"

// BacktestSummary is the derived result of one backtest run. Immutable once
// produced; archived with its timestamp.
type BacktestSummary struct {
	Timestamp       time.Time `json:"timestamp"`
	StartingCash    float64   `json:"startingCash"`
	EndingBalance   float64   `json:"endingBalance"`
	NetProfit       float64   `json:"netProfit"`
	TradesExecuted  int       `json:"tradesExecuted"`
	Accuracy        float64   `json:"accuracy"`       // wins / tradesExecuted, 0 when no trades
	EngagementRate  float64   `json:"engagementRate"` // tradesExecuted / candlesAnalyzed
	CandlesAnalyzed int       `json:"candlesAnalyzed"`
}

// BacktestResult pairs a summary with its full per-step trade list.
type BacktestResult struct {
	BacktestSummary
	Trades []Trade `json:"trades"`
}

// BacktestPage is one page of archived backtest results, newest first.
type BacktestPage struct {
	Count   int              `json:"count"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	Results []BacktestResult `json:"results"`
}
