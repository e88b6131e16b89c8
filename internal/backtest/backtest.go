// Package backtest replays a historical candle series through the indicator
// engine and condition evaluator, accumulating a virtual portfolio.
//
// Sentiment is sampled once per run and reused for every simulated candle.
// That mirrors the behavior the dashboard has always shown; recomputing it
// per candle would both change results and multiply LLM calls by the candle
// count. TODO: expose a per-run sentiment series once a historical sentiment
// source exists.
package backtest

import (
	"sentinelsniper/internal/indicator"
	"sentinelsniper/internal/model"
	"sentinelsniper/internal/strategy"
)

// Simulated per-step returns. Buys credit a fixed fraction of the running
// balance, sells debit a smaller one; the simplified model carries no
// position state.
const (
	BuyReturn  = 0.015
	SellReturn = -0.008
)

// DefaultStartingCash is the virtual bankroll a run starts with.
const DefaultStartingCash = 50.0

// Run simulates the strategy over the candle series with the given fixed
// sentiment score. For each index from the RSI period onward it computes the
// trailing-window RSI, evaluates the buy/sell expressions, and applies the
// simulated return. Buy is checked first; buy and sell never both fire in
// one step. A record is appended for every analyzed candle, holds included.
func Run(strat *model.Strategy, candles []model.Candle, sentiment float64, startingCash float64) model.BacktestResult {
	if startingCash <= 0 {
		startingCash = DefaultStartingCash
	}
	period := strat.RSIPeriod(14)

	balance := startingCash
	netProfit := 0.0
	tradesExecuted := 0
	var trades []model.Trade

	for i := period; i < len(candles); i++ {
		window := candles[i-period : i+1]
		rsi, ok := indicator.RSI(window, period)
		if !ok {
			rsi = 0
		}
		indicators := model.IndicatorSet{"RSI": rsi, "Sentiment": sentiment}
		decision := strategy.Evaluate(strat, indicators)

		profit := 0.0
		switch decision.Action {
		case model.ActionBuy:
			profit = balance * BuyReturn
		case model.ActionSell:
			profit = balance * SellReturn
		}
		if profit != 0 {
			balance += profit
			netProfit += profit
			tradesExecuted++
		}

		trades = append(trades, model.Trade{
			Timestamp:  candles[i].CloseAt(),
			Kind:       model.TradeStrategy,
			Action:     decision.Action,
			PnL:        model.Round4(profit),
			Balance:    model.Round2(balance),
			Indicators: indicators,
		})
	}

	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	accuracy := 0.0
	if tradesExecuted > 0 {
		accuracy = model.Round4(float64(wins) / float64(tradesExecuted))
	}
	engagement := 0.0
	if len(trades) > 0 {
		engagement = model.Round4(float64(tradesExecuted) / float64(len(trades)))
	}

	return model.BacktestResult{
		BacktestSummary: model.BacktestSummary{
			StartingCash:    startingCash,
			EndingBalance:   model.Round2(balance),
			NetProfit:       model.Round2(netProfit),
			TradesExecuted:  tradesExecuted,
			Accuracy:        accuracy,
			EngagementRate:  engagement,
			CandlesAnalyzed: len(trades),
		},
		Trades: trades,
	}
}
